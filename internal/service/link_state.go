package service

import (
	"sync"
	"time"

	"github.com/dushixiang/pika-relay/internal/stats"
	"go.uber.org/zap"
)

// LinkMode 代理链路模式
type LinkMode string

const (
	LinkNormal   LinkMode = "NORMAL"
	LinkDegraded LinkMode = "DEGRADED"
)

// LinkState 链路状态机：NORMAL <-> DEGRADED
type LinkState struct {
	logger *zap.Logger
	stats  *stats.Stats

	mu     sync.RWMutex
	mode   LinkMode
	since  time.Time
	reason string
	now    func() time.Time
}

func NewLinkState(logger *zap.Logger, st *stats.Stats) *LinkState {
	return &LinkState{
		logger: logger,
		stats:  st,
		mode:   LinkNormal,
		since:  time.Now(),
		now:    time.Now,
	}
}

// Degrade 进入降级模式，返回是否发生了状态变化
func (s *LinkState) Degrade(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == LinkDegraded {
		return false
	}
	s.mode = LinkDegraded
	s.since = s.now()
	s.reason = reason
	s.stats.LinkDegraded.Set(1)
	s.logger.Warn("代理链路降级，改为使用内存缓冲区", zap.String("reason", reason))
	return true
}

// Recover 恢复正常模式，返回是否发生了状态变化
func (s *LinkState) Recover() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == LinkNormal {
		return false
	}
	degradedFor := s.now().Sub(s.since)
	s.mode = LinkNormal
	s.since = s.now()
	s.reason = ""
	s.stats.LinkDegraded.Set(0)
	s.logger.Info("代理链路已恢复", zap.Duration("degradedFor", degradedFor))
	return true
}

func (s *LinkState) Mode() LinkMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *LinkState) Degraded() bool {
	return s.Mode() == LinkDegraded
}

// Since 进入当前模式的时间
func (s *LinkState) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.since
}

// Reason 最近一次降级原因
func (s *LinkState) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}
