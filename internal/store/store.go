package store

import (
	"context"
	"errors"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/dushixiang/pika-relay/internal/repo"
	"go.uber.org/zap"
)

// ErrNotFound 暂无数据，或最新数据已超过新鲜度窗口
var ErrNotFound = errors.New("no metrics available")

// LinkMode 读取当前链路模式
type LinkMode interface {
	Degraded() bool
}

// Store 读写策略：链路正常时优先 TTL 层，失败或降级时透明回退到内存缓冲区
type Store struct {
	logger    *zap.Logger
	repo      *repo.MetricRepo
	link      LinkMode
	samples   *RetentionBuffer[protocol.MetricSample]
	alerts    *RetentionBuffer[protocol.AlertEvent]
	freshness time.Duration
	now       func() time.Time
}

func New(logger *zap.Logger, metricRepo *repo.MetricRepo, link LinkMode, capacity, alertCapacity int, freshness time.Duration) *Store {
	return &Store{
		logger:    logger,
		repo:      metricRepo,
		link:      link,
		samples:   NewRetentionBuffer[protocol.MetricSample](capacity),
		alerts:    NewRetentionBuffer[protocol.AlertEvent](alertCapacity),
		freshness: freshness,
		now:       time.Now,
	}
}

// Append 写入内存缓冲区
func (s *Store) Append(sample protocol.MetricSample) {
	s.samples.Append(sample)
}

// AppendAlert 写入内存告警缓冲区
func (s *Store) AppendAlert(alert protocol.AlertEvent) {
	s.alerts.Append(alert)
}

// Persist 写入 TTL 层
func (s *Store) Persist(ctx context.Context, sample *protocol.MetricSample) error {
	return s.repo.SaveSample(ctx, sample)
}

// PersistAlert 以新键写入 TTL 层
func (s *Store) PersistAlert(ctx context.Context, alert *protocol.AlertEvent) error {
	_, err := s.repo.SaveAlert(ctx, alert)
	return err
}

// Latest 最新样本
func (s *Store) Latest(ctx context.Context) (protocol.MetricSample, error) {
	if !s.link.Degraded() {
		sample, err := s.repo.FindLatest(ctx)
		if err == nil {
			return *sample, nil
		}
		if errors.Is(err, broker.ErrNotFound) {
			return protocol.MetricSample{}, ErrNotFound
		}
		s.logger.Warn("读取 latest_metrics 失败，回退到内存", zap.Error(err))
	}
	return s.latestFromMemory()
}

func (s *Store) latestFromMemory() (protocol.MetricSample, error) {
	sample, ok := s.samples.Last()
	if !ok {
		return protocol.MetricSample{}, ErrNotFound
	}
	if s.freshness > 0 && s.now().Sub(sample.Timestamp) > s.freshness {
		return protocol.MetricSample{}, ErrNotFound
	}
	return sample, nil
}

// Fresh 最新样本是否仍在新鲜度窗口内
func (s *Store) Fresh(ctx context.Context) bool {
	if !s.link.Degraded() {
		ok, err := s.repo.LatestExists(ctx)
		if err == nil {
			return ok
		}
	}
	_, err := s.latestFromMemory()
	return err == nil
}

// History 内存缓冲区内容，从旧到新
func (s *Store) History() []protocol.MetricSample {
	return s.samples.Snapshot()
}

// HistoryWindow 按 step 探测 [from, to) 内的样本
func (s *Store) HistoryWindow(ctx context.Context, from, to time.Time, step time.Duration) ([]protocol.MetricSample, error) {
	if !s.link.Degraded() {
		samples, err := s.repo.FindWindow(ctx, from, to, step)
		if err == nil {
			return samples, nil
		}
		s.logger.Warn("读取历史指标失败，回退到内存", zap.Error(err))
	}

	out := make([]protocol.MetricSample, 0)
	for _, sample := range s.samples.Snapshot() {
		if !sample.Timestamp.Before(from) && sample.Timestamp.Before(to) {
			out = append(out, sample)
		}
	}
	return out, nil
}

// Alerts [from, to] 内的告警，按时间倒序，最多 limit 条
func (s *Store) Alerts(ctx context.Context, from, to time.Time, limit int) ([]protocol.AlertEvent, error) {
	if !s.link.Degraded() {
		alerts, err := s.repo.FindAlerts(ctx, from, to, limit)
		if err == nil {
			return alerts, nil
		}
		s.logger.Warn("读取告警失败，回退到内存", zap.Error(err))
	}

	out := make([]protocol.AlertEvent, 0)
	for _, alert := range s.alerts.Snapshot() {
		if !alert.Timestamp.Before(from) && !alert.Timestamp.After(to) {
			out = append(out, alert)
		}
	}
	repo.SortAlertsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
