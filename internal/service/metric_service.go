package service

import (
	"context"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/internal/metric"
	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/dushixiang/pika-relay/internal/store"
	"go.uber.org/zap"
)

// ErrNoMetrics 暂无可用数据
var ErrNoMetrics = store.ErrNotFound

const pingTimeout = 2 * time.Second

// Pinger 代理连通性探测
type Pinger interface {
	Ping(ctx context.Context) error
}

// ListenerProbe 订阅循环状态
type ListenerProbe interface {
	State() broker.ListenerState
}

// ViewerCounter 在线实时连接数
type ViewerCounter interface {
	Count() int
}

// MetricService 只读查询：最新样本、历史、告警与健康状态
type MetricService struct {
	logger      *zap.Logger
	store       *store.Store
	link        *LinkState
	pinger      Pinger
	historyStep time.Duration
	alertLimit  int
	now         func() time.Time

	sampler  *SamplerService
	listener ListenerProbe
	viewers  ViewerCounter
}

func NewMetricService(logger *zap.Logger, metricStore *store.Store, link *LinkState, pinger Pinger, retention config.RetentionConfig) *MetricService {
	alertLimit := retention.AlertLimit
	if alertLimit <= 0 {
		alertLimit = 50
	}
	return &MetricService{
		logger:      logger,
		store:       metricStore,
		link:        link,
		pinger:      pinger,
		historyStep: retention.HistoryStep,
		alertLimit:  alertLimit,
		now:         time.Now,
	}
}

// Attach 关联需要在健康检查中报告的组件
func (s *MetricService) Attach(sampler *SamplerService, listener ListenerProbe, viewers ViewerCounter) {
	s.sampler = sampler
	s.listener = listener
	s.viewers = viewers
}

// GetLatest 最新样本，无数据或已过期时返回 ErrNoMetrics
func (s *MetricService) GetLatest(ctx context.Context) (protocol.MetricSample, error) {
	return s.store.Latest(ctx)
}

// GetHistory window 内的样本，从旧到新；window <= 0 时返回内存缓冲区全部内容
func (s *MetricService) GetHistory(ctx context.Context, window time.Duration) ([]protocol.MetricSample, error) {
	if window <= 0 {
		return s.store.History(), nil
	}
	now := s.now()
	return s.store.HistoryWindow(ctx, now.Add(-window), now.Add(time.Second), s.historyStep)
}

// GetAlerts window 内的告警，按时间倒序，limit <= 0 时使用默认条数
func (s *MetricService) GetAlerts(ctx context.Context, window time.Duration, limit int) ([]protocol.AlertEvent, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if limit <= 0 {
		limit = s.alertLimit
	}
	now := s.now()
	return s.store.Alerts(ctx, now.Add(-window), now, limit)
}

// Health 只读的健康检查，不改变链路状态
func (s *MetricService) Health(ctx context.Context) metric.Health {
	health := metric.Health{
		Timestamp: s.now().UTC(),
		Mode:      string(s.link.Mode()),
		Since:     s.link.Since().UTC(),
		Services:  s.services(ctx),
	}

	if s.link.Degraded() {
		health.Status = metric.StatusDegraded
		health.Services.Broker = metric.BrokerDisconnected
		health.Error = s.link.Reason()
		return health
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.pinger.Ping(pingCtx); err != nil {
		s.logger.Warn("健康检查 ping 失败", zap.Error(err))
		health.Status = metric.StatusUnhealthy
		health.Services.Broker = metric.BrokerError
		health.Error = err.Error()
		return health
	}

	health.Status = metric.StatusHealthy
	health.Services.Broker = metric.BrokerConnected
	return health
}

func (s *MetricService) services(ctx context.Context) metric.Services {
	services := metric.Services{
		Sampler:  metric.ComponentStopped,
		Listener: metric.ComponentStopped,
		Data:     metric.DataStale,
	}
	if s.sampler != nil && s.sampler.Running() {
		services.Sampler = metric.ComponentRunning
		if s.sampler.Stalled(s.now()) {
			services.Sampler = metric.ComponentStalled
		}
	}
	if s.listener != nil && s.listener.State() == broker.ListenerRunning {
		services.Listener = metric.ComponentRunning
	}
	if s.viewers != nil {
		services.Viewers = s.viewers.Count()
	}
	if s.store.Fresh(ctx) {
		services.Data = metric.DataFresh
	}
	return services
}
