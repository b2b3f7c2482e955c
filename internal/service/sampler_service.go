package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/dushixiang/pika-relay/internal/stats"
	"github.com/dushixiang/pika-relay/internal/store"
	goerrors "github.com/go-errors/errors"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// ErrCollectionFailure 本轮采集失败，跳过发布
var ErrCollectionFailure = errors.New("collection failure")

// Collector 平台指标源
type Collector interface {
	Collect(ctx context.Context) (*protocol.MetricSample, error)
}

// SamplerService 采样循环：采集 -> 写入内存 -> 推导告警 -> 发布并写入 TTL 层
type SamplerService struct {
	logger       *zap.Logger
	collector    Collector
	store        *store.Store
	publisher    broker.Publisher
	alertService *AlertService
	link         *LinkState
	stats        *stats.Stats
	interval     time.Duration

	mu       sync.Mutex
	running  atomic.Bool
	stop     chan struct{}
	started  atomic.Int64
	lastTick atomic.Int64
}

func NewSamplerService(logger *zap.Logger, collector Collector, metricStore *store.Store, publisher broker.Publisher,
	alertService *AlertService, link *LinkState, st *stats.Stats, interval time.Duration) *SamplerService {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SamplerService{
		logger:       logger,
		collector:    collector,
		store:        metricStore,
		publisher:    publisher,
		alertService: alertService,
		link:         link,
		stats:        st,
		interval:     interval,
	}
}

// Tick 执行一次采样。采集失败返回 ErrCollectionFailure，发布失败只计数并触发降级。
func (s *SamplerService) Tick(ctx context.Context) error {
	collectCtx, cancel := context.WithTimeout(ctx, s.interval)
	sample, err := s.collect(collectCtx)
	cancel()
	if err != nil {
		s.stats.CollectionFailures.Inc()
		s.logger.Warn("采集指标失败，跳过本轮", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrCollectionFailure, err)
	}
	s.stats.SamplesCollected.Inc()
	s.lastTick.Store(time.Now().UnixNano())

	s.store.Append(*sample)

	alerts := s.alertService.CheckAlerts(sample)
	for _, alert := range alerts {
		s.stats.AlertsFired.WithLabelValues(string(alert.Type)).Inc()
		s.store.AppendAlert(alert)
		s.logger.Info("触发告警",
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
			zap.String("message", alert.Message))
	}

	// 降级期间只写内存，恢复后不补发
	if s.link.Degraded() {
		return nil
	}
	s.emit(ctx, sample, alerts)
	return nil
}

func (s *SamplerService) collect(ctx context.Context) (sample *protocol.MetricSample, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		sample, err = s.collector.Collect(ctx)
	})
	if r := pc.Recovered(); r != nil {
		return nil, goerrors.Wrap(r.Value, 0)
	}
	if err == nil && sample == nil {
		return nil, errors.New("empty sample")
	}
	return sample, err
}

func (s *SamplerService) emit(ctx context.Context, sample *protocol.MetricSample, alerts []protocol.AlertEvent) {
	if err := s.publish(ctx, protocol.ChannelMetrics, sample); err != nil {
		s.brokerFailed("publish", err)
		return
	}
	if err := s.store.Persist(ctx, sample); err != nil {
		s.brokerFailed("persist", err)
		return
	}

	for i := range alerts {
		alert := &alerts[i]
		if err := s.publish(ctx, protocol.ChannelAlerts, alert); err != nil {
			s.brokerFailed("publish", err)
			return
		}
		if err := s.store.PersistAlert(ctx, alert); err != nil {
			s.brokerFailed("persist", err)
			return
		}
	}
}

func (s *SamplerService) publish(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, channel, payload)
}

func (s *SamplerService) brokerFailed(op string, err error) {
	s.stats.BrokerFailures.WithLabelValues(op).Inc()
	if errors.Is(err, broker.ErrUnavailable) {
		s.link.Degrade(err.Error())
		return
	}
	s.logger.Warn("发布指标失败", zap.String("op", op), zap.Error(err))
}

// Run 按固定周期执行 Tick，直到 Stop 或 ctx 结束。
// 每轮根据实际耗时计算下一次触发时间，避免采集耗时造成的累积漂移。
func (s *SamplerService) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	s.started.Store(time.Now().UnixNano())
	s.running.Store(true)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.stop == stop {
			s.running.Store(false)
		}
		s.mu.Unlock()
	}()

	s.logger.Info("采样循环已启动", zap.Duration("interval", s.interval))
	next := time.Now()
	for s.running.Load() {
		_ = s.Tick(ctx)

		next = next.Add(s.interval)
		wait := time.Until(next)
		if wait < 0 {
			// 落后超过一个周期时放弃追赶，从当前时间重新对齐
			next = time.Now()
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop 清除运行标志并唤醒等待中的循环，可在任意 goroutine 调用
func (s *SamplerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	close(s.stop)
	s.logger.Info("采样循环已停止")
}

// Running 循环是否在运行
func (s *SamplerService) Running() bool {
	return s.running.Load()
}

// LastTick 最近一次成功采集的时间
func (s *SamplerService) LastTick() time.Time {
	ns := s.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stalled 循环在运行，但超过两个周期没有成功采集
func (s *SamplerService) Stalled(now time.Time) bool {
	if !s.running.Load() {
		return false
	}
	last := s.lastTick.Load()
	if started := s.started.Load(); started > last {
		last = started
	}
	return now.Sub(time.Unix(0, last)) > 2*s.interval
}

// Interval 采样周期
func (s *SamplerService) Interval() time.Duration {
	return s.interval
}
