package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/pika-relay/internal/broker"
	"github.com/dushixiang/pika-relay/internal/service"
	"github.com/jpillora/backoff"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const pingTimeout = 2 * time.Second

// Restartable 可由调度器重启的订阅循环
type Restartable interface {
	Start(ctx context.Context) error
	State() broker.ListenerState
}

// ProbeScheduler 断线重连探测：降级时定期 ping 代理，恢复后重启订阅并回到正常模式。
// 降级期间触发的告警只保存在内存中，恢复后不会补发。
type ProbeScheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	pinger   service.Pinger
	listener Restartable
	link     *service.LinkState
	logger   *zap.Logger
	interval time.Duration
	backoff  *backoff.Backoff
	next     time.Time
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewProbeScheduler 创建探测调度器
func NewProbeScheduler(logger *zap.Logger, pinger service.Pinger, listener Restartable, link *service.LinkState, interval time.Duration) *ProbeScheduler {
	if interval < time.Second {
		interval = time.Second
	}
	return &ProbeScheduler{
		cron:     cron.New(),
		pinger:   pinger,
		listener: listener,
		link:     link,
		logger:   logger,
		interval: interval,
		backoff: &backoff.Backoff{
			Min:    interval,
			Max:    5 * time.Minute,
			Factor: 2,
		},
		now: time.Now,
		ctx: context.Background(),
	}
}

// Start 启动调度器
func (s *ProbeScheduler) Start(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	// 构建 cron 表达式: @every <interval>
	spec := fmt.Sprintf("@every %s", s.interval)
	entryID, err := s.cron.AddFunc(spec, s.Probe)
	if err != nil {
		return fmt.Errorf("添加 cron 任务失败: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()

	s.logger.Info("启动链路探测调度器", zap.Duration("interval", s.interval))
	return nil
}

// Stop 停止调度器并等待正在执行的探测结束
func (s *ProbeScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("链路探测调度器已停止")
}

// Probe 执行一次探测；上一次探测仍在进行时直接跳过
func (s *ProbeScheduler) Probe() {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	if !s.link.Degraded() {
		if s.listener.State() == broker.ListenerRunning {
			return
		}
		// 订阅循环已退出但未上报，视为链路断开
		s.link.Degrade("listener stopped")
	}

	now := s.now()
	if now.Before(s.next) {
		return
	}

	if err := s.reconnect(); err != nil {
		wait := s.backoff.Duration()
		s.next = now.Add(wait)
		s.logger.Debug("代理仍不可用",
			zap.Error(err),
			zap.Duration("retryIn", wait),
			zap.Float64("attempt", s.backoff.Attempt()))
		return
	}

	s.backoff.Reset()
	s.next = time.Time{}
	s.link.Recover()
}

func (s *ProbeScheduler) reconnect() error {
	pingCtx, cancel := context.WithTimeout(s.ctx, pingTimeout)
	defer cancel()
	if err := s.pinger.Ping(pingCtx); err != nil {
		return err
	}
	if s.listener.State() == broker.ListenerRunning {
		return nil
	}
	return s.listener.Start(s.ctx)
}
