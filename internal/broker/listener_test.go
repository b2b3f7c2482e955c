package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/dushixiang/pika-relay/internal/stats"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func waitState(t *testing.T, l *Listener, want ListenerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待状态 %s 超时，当前 %s", want, l.State())
}

func TestListenerDispatch(t *testing.T) {
	b := NewMemoryBroker()
	st := stats.New()
	l := NewListener(zap.NewNop(), b, st, 20*time.Millisecond, nil)
	defer l.Close()

	metrics, cancelMetrics := l.Metrics().Subscribe(4)
	defer cancelMetrics()
	alerts, cancelAlerts := l.Alerts().Subscribe(4)
	defer cancelAlerts()

	ctx := context.Background()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() 失败: %v", err)
	}
	if l.State() != ListenerRunning {
		t.Fatalf("启动后状态应为 running，实际 %s", l.State())
	}

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sample := protocol.MetricSample{Timestamp: ts, CPU: protocol.CPUData{Percent: 42, Count: 8}}
	payload, _ := json.Marshal(sample)
	_ = b.Publish(ctx, protocol.ChannelMetrics, []byte("{not json"))
	_ = b.Publish(ctx, protocol.ChannelMetrics, payload)

	alert := protocol.AlertEvent{Type: protocol.AlertTypeDisk, Severity: protocol.SeverityCritical, Message: "High disk usage: 95.0%", Timestamp: ts}
	payload, _ = json.Marshal(alert)
	_ = b.Publish(ctx, protocol.ChannelAlerts, payload)

	select {
	case got := <-metrics:
		if !got.Timestamp.Equal(ts) || got.CPU.Percent != 42 {
			t.Errorf("收到错误的样本: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到样本")
	}

	select {
	case got := <-alerts:
		if got.Type != alert.Type || got.Severity != alert.Severity || got.Message != alert.Message || !got.Timestamp.Equal(ts) {
			t.Errorf("收到错误的告警: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到告警")
	}

	if got := testutil.ToFloat64(st.DecodeFailures); got != 1 {
		t.Errorf("期望 1 次解析失败，实际 %f", got)
	}
	if l.State() != ListenerRunning {
		t.Errorf("解析失败不应停止循环")
	}
}

func TestListenerStopIsPromptAndRestartable(t *testing.T) {
	b := NewMemoryBroker()
	l := NewListener(zap.NewNop(), b, stats.New(), time.Hour, nil)
	ctx := context.Background()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start() 失败: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop() 不应等待接收超时")
	}
	if l.State() != ListenerStopped {
		t.Fatalf("停止后状态应为 stopped")
	}
	l.Stop() // 重复停止无副作用

	if err := l.Start(ctx); err != nil {
		t.Fatalf("重新 Start() 失败: %v", err)
	}
	if l.State() != ListenerRunning {
		t.Fatalf("重启后状态应为 running")
	}
	l.Close()
}

func TestListenerConnectionLost(t *testing.T) {
	b := NewMemoryBroker()
	lost := make(chan error, 1)
	st := stats.New()
	l := NewListener(zap.NewNop(), b, st, 20*time.Millisecond, func(err error) { lost <- err })
	defer l.Close()

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() 失败: %v", err)
	}
	_ = b.Close()

	select {
	case err := <-lost:
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("断开原因应为 ErrUnavailable，实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("连接断开后应回调 onLost")
	}

	<-l.Done()
	waitState(t, l, ListenerStopped)
	if l.Err() == nil {
		t.Error("Err() 应记录断开原因")
	}
	if got := testutil.ToFloat64(st.BrokerFailures.WithLabelValues("receive")); got != 1 {
		t.Errorf("期望 1 次 receive 失败，实际 %f", got)
	}

	if err := l.Start(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("代理不可用时 Start() 应失败，实际 %v", err)
	}
	if l.State() != ListenerStopped {
		t.Fatal("启动失败后状态应保持 stopped")
	}
}
