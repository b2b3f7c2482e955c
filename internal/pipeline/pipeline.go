package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/internal/repo"
	"github.com/dushixiang/pika-relay/internal/scheduler"
	"github.com/dushixiang/pika-relay/internal/service"
	"github.com/dushixiang/pika-relay/internal/stats"
	"github.com/dushixiang/pika-relay/internal/store"
	"github.com/dushixiang/pika-relay/internal/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	startupPingTimeout = 3 * time.Second
	topicBuffer        = 64
)

// Pipeline 采样、订阅、推送与降级控制的运行上下文，由启动流程显式创建并传给 HTTP 层
type Pipeline struct {
	logger *zap.Logger
	cfg    *config.AppConfig

	Stats     *stats.Stats
	Broker    broker.Broker
	Link      *service.LinkState
	Store     *store.Store
	Listener  *broker.Listener
	Sampler   *service.SamplerService
	Manager   *websocket.Manager
	Metrics   *service.MetricService
	Scheduler *scheduler.ProbeScheduler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	unsub   []func()
}

// New 根据配置组装管道，broker 的生命周期由调用方管理
func New(logger *zap.Logger, cfg *config.AppConfig, b broker.Broker, collector service.Collector) *Pipeline {
	st := stats.New()
	link := service.NewLinkState(logger, st)

	metricRepo := repo.NewMetricRepo(b, cfg.Retention.TTL, cfg.Retention.LatestTTL)
	metricStore := store.New(logger, metricRepo, link, cfg.Retention.Capacity, cfg.Retention.AlertCapacity, cfg.Retention.LatestTTL)

	listener := broker.NewListener(logger, b, st, cfg.Broker.ReceiveWait, func(err error) {
		link.Degrade(err.Error())
	})

	alertService := service.NewAlertService(cfg.Threshold)
	sampler := service.NewSamplerService(logger, collector, metricStore, b, alertService, link, st, cfg.Sampler.Interval)
	manager := websocket.NewManager(logger, st, cfg.Gateway)

	metrics := service.NewMetricService(logger, metricStore, link, b, cfg.Retention)
	metrics.Attach(sampler, listener, manager)

	probe := scheduler.NewProbeScheduler(logger, b, listener, link, cfg.Broker.ProbeInterval)

	return &Pipeline{
		logger:    logger,
		cfg:       cfg,
		Stats:     st,
		Broker:    b,
		Link:      link,
		Store:     metricStore,
		Listener:  listener,
		Sampler:   sampler,
		Manager:   manager,
		Metrics:   metrics,
		Scheduler: probe,
	}
}

// Start 启动后台任务。启动时代理不可达则直接进入降级模式，不会返回错误。
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	pingCtx, pingCancel := context.WithTimeout(runCtx, startupPingTimeout)
	err := p.Broker.Ping(pingCtx)
	pingCancel()
	if err == nil {
		err = p.Listener.Start(runCtx)
	}
	if err != nil {
		p.logger.Warn("启动时无法连接代理", zap.Error(err))
		p.Link.Degrade(err.Error())
	}

	if err := p.Scheduler.Start(runCtx); err != nil {
		cancel()
		p.Listener.Stop()
		return err
	}

	metrics, unsubMetrics := p.Listener.Metrics().Subscribe(topicBuffer)
	alerts, unsubAlerts := p.Listener.Alerts().Subscribe(topicBuffer)
	p.unsub = []func(){unsubMetrics, unsubAlerts}

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		p.Manager.Run(runCtx, metrics, alerts)
	})
	wg.Go(func() {
		p.Sampler.Run(runCtx)
	})

	p.wg = wg
	p.cancel = cancel
	p.started = true
	p.logger.Info("管道已启动",
		zap.String("mode", string(p.Link.Mode())),
		zap.Duration("interval", p.Sampler.Interval()))
	return nil
}

// Stop 停止所有后台任务并断开实时连接，可重复调用
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}

	p.Sampler.Stop()
	p.Scheduler.Stop()
	p.Listener.Stop()
	p.cancel()
	for _, unsub := range p.unsub {
		unsub()
	}
	p.wg.Wait()
	p.Manager.Close()

	p.unsub = nil
	p.started = false
	p.logger.Info("管道已停止")
}

// Running 是否已启动
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
