package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/metric"
	"github.com/dushixiang/pika-relay/internal/protocol"
)

type fakeListener struct {
	state broker.ListenerState
}

func (f fakeListener) State() broker.ListenerState { return f.state }

type fakeViewers int

func (f fakeViewers) Count() int { return int(f) }

func newRedisHarness(t *testing.T, collector Collector) (*miniredis.Miniredis, *harness) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := broker.NewRedisBroker("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("创建 Redis 代理失败: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return mr, newHarness(t, b, collector, time.Second)
}

func TestMetricServiceLatestNotFound(t *testing.T) {
	_, h := newRedisHarness(t, &queueCollector{})
	if _, err := h.metrics.GetLatest(context.Background()); !errors.Is(err, ErrNoMetrics) {
		t.Fatalf("无数据时应返回 ErrNoMetrics，实际 %v", err)
	}
}

func TestMetricServiceHealthy(t *testing.T) {
	_, h := newRedisHarness(t, &queueCollector{samples: []protocol.MetricSample{nowSample(0, 10)}})
	h.metrics.Attach(h.sampler, fakeListener{state: broker.ListenerRunning}, fakeViewers(3))
	ctx := context.Background()

	if err := h.sampler.Tick(ctx); err != nil {
		t.Fatalf("Tick() 失败: %v", err)
	}

	health := h.metrics.Health(ctx)
	if health.Status != metric.StatusHealthy {
		t.Fatalf("期望 healthy，实际 %+v", health)
	}
	want := metric.Services{
		Broker:   metric.BrokerConnected,
		Sampler:  metric.ComponentStopped,
		Listener: metric.ComponentRunning,
		Viewers:  3,
		Data:     metric.DataFresh,
	}
	if health.Services != want {
		t.Fatalf("组件状态 = %+v，期望 %+v", health.Services, want)
	}
	if health.Mode != string(LinkNormal) {
		t.Errorf("Mode = %s", health.Mode)
	}
}

func TestMetricServiceUnhealthyWhenPingFails(t *testing.T) {
	mr, h := newRedisHarness(t, &queueCollector{})
	ctx := context.Background()
	mr.Close()

	first := h.metrics.Health(ctx)
	second := h.metrics.Health(ctx)
	if first.Status != metric.StatusUnhealthy || second.Status != metric.StatusUnhealthy {
		t.Fatalf("代理可达性错误时应为 unhealthy: %s / %s", first.Status, second.Status)
	}
	if first.Services.Broker != metric.BrokerError || first.Error == "" {
		t.Errorf("应报告代理错误: %+v", first)
	}
	if h.link.Degraded() {
		t.Error("健康检查不应改变链路状态")
	}
}

func TestMetricServiceHistoryWindow(t *testing.T) {
	samples := []protocol.MetricSample{nowSample(-2*time.Second, 1), nowSample(-time.Second, 2), nowSample(0, 3)}
	_, h := newRedisHarness(t, &queueCollector{samples: samples})
	h.metrics.historyStep = time.Second
	ctx := context.Background()

	for range samples {
		if err := h.sampler.Tick(ctx); err != nil {
			t.Fatalf("Tick() 失败: %v", err)
		}
	}

	history, err := h.metrics.GetHistory(ctx, time.Minute)
	if err != nil {
		t.Fatalf("GetHistory() 失败: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("期望 3 个样本，实际 %d", len(history))
	}
	for i, s := range history {
		if s.CPU.Percent != float64(i+1) {
			t.Fatalf("历史应从旧到新: %+v", history)
		}
	}
}

func TestMetricServiceAlertsDefaultLimit(t *testing.T) {
	b := broker.NewMemoryBroker()
	h := newHarness(t, b, &queueCollector{}, time.Second)
	h.link.Degrade("test")
	h.metrics.alertLimit = 2

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 4; i++ {
		h.store.AppendAlert(protocol.AlertEvent{
			Type:      protocol.AlertTypeDisk,
			Severity:  protocol.SeverityCritical,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	alerts, err := h.metrics.GetAlerts(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetAlerts() 失败: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("默认条数应为 2，实际 %d", len(alerts))
	}
	if !alerts[0].Timestamp.After(alerts[1].Timestamp) {
		t.Fatalf("告警应按时间倒序: %+v", alerts)
	}
}

func TestMetricServiceSamplerStalled(t *testing.T) {
	collector := &queueCollector{samples: []protocol.MetricSample{nowSample(0, 10)}}
	h := newHarness(t, broker.NewMemoryBroker(), collector, time.Hour)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		h.sampler.Run(ctx)
		close(done)
	}()
	defer func() {
		h.sampler.Stop()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for collector.calls.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.metrics.Health(ctx).Services.Sampler; got != metric.ComponentRunning {
		t.Fatalf("刚完成采集时 sampler 应为 running，实际 %s", got)
	}

	h.metrics.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	if got := h.metrics.Health(ctx).Services.Sampler; got != metric.ComponentStalled {
		t.Fatalf("超过两个周期未采集时 sampler 应为 stalled，实际 %s", got)
	}
}

func TestMetricServiceHealthyWithStaleData(t *testing.T) {
	_, h := newRedisHarness(t, &queueCollector{})
	health := h.metrics.Health(context.Background())
	if health.Status != metric.StatusHealthy {
		t.Fatalf("代理可达时应为 healthy，实际 %s", health.Status)
	}
	if health.Services.Data != metric.DataStale {
		t.Fatalf("无数据时 data 应为 stale，实际 %s", health.Services.Data)
	}
}
