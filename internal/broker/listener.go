package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dushixiang/pika-relay/internal/bus"
	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/dushixiang/pika-relay/internal/stats"
	"go.uber.org/zap"
)

// ListenerState 订阅循环状态
type ListenerState string

const (
	ListenerRunning ListenerState = "running"
	ListenerStopped ListenerState = "stopped"
)

// Listener 订阅 system_metrics / system_alerts 并分发到类型化主题。
// 连接断开时循环退出并进入 stopped 状态，由上层负责重启。
type Listener struct {
	logger *zap.Logger
	sub    Subscriber
	stats  *stats.Stats
	wait   time.Duration
	onLost func(err error)

	metrics *bus.Topic[protocol.MetricSample]
	alerts  *bus.Topic[protocol.AlertEvent]

	mu      sync.Mutex
	running atomic.Bool
	current Subscription
	done    chan struct{}
	err     error
}

// NewListener 创建订阅循环，onLost 在连接意外断开时调用
func NewListener(logger *zap.Logger, sub Subscriber, st *stats.Stats, wait time.Duration, onLost func(err error)) *Listener {
	if wait <= 0 {
		wait = time.Second
	}
	onDrop := func(topic string) {
		st.TopicDrops.WithLabelValues(topic).Inc()
	}
	done := make(chan struct{})
	close(done)
	return &Listener{
		logger:  logger,
		sub:     sub,
		stats:   st,
		wait:    wait,
		onLost:  onLost,
		metrics: bus.NewTopic[protocol.MetricSample](protocol.ChannelMetrics, onDrop),
		alerts:  bus.NewTopic[protocol.AlertEvent](protocol.ChannelAlerts, onDrop),
		done:    done,
	}
}

// Metrics 指标主题
func (l *Listener) Metrics() *bus.Topic[protocol.MetricSample] {
	return l.metrics
}

// Alerts 告警主题
func (l *Listener) Alerts() *bus.Topic[protocol.AlertEvent] {
	return l.alerts
}

// Start 建立订阅并在后台运行循环；已在运行时直接返回
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return nil
	}

	subscription, err := l.sub.Subscribe(ctx, protocol.ChannelMetrics, protocol.ChannelAlerts)
	if err != nil {
		l.stats.BrokerFailures.WithLabelValues("subscribe").Inc()
		l.err = err
		return err
	}

	l.current = subscription
	l.err = nil
	l.done = make(chan struct{})
	l.running.Store(true)

	go l.loop(ctx, subscription, l.done)

	l.logger.Info("订阅已启动", zap.Strings("channels", []string{protocol.ChannelMetrics, protocol.ChannelAlerts}))
	return nil
}

func (l *Listener) loop(ctx context.Context, subscription Subscription, done chan struct{}) {
	var lost error
	defer func() {
		l.running.Store(false)
		_ = subscription.Close()
		close(done)
		if lost != nil && l.onLost != nil {
			l.onLost(lost)
		}
	}()

	for l.running.Load() {
		msg, err := subscription.ReceiveTimeout(ctx, l.wait)
		if err != nil {
			if !l.running.Load() || ctx.Err() != nil {
				return
			}
			l.stats.BrokerFailures.WithLabelValues("receive").Inc()
			l.logger.Warn("订阅连接断开", zap.Error(err))
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
			lost = err
			return
		}
		if msg == nil {
			continue
		}
		l.dispatch(msg)
	}
}

func (l *Listener) dispatch(msg *Message) {
	switch msg.Channel {
	case protocol.ChannelMetrics:
		var sample protocol.MetricSample
		if err := json.Unmarshal(msg.Payload, &sample); err != nil {
			l.decodeFailed(msg, err)
			return
		}
		l.metrics.Publish(sample)
	case protocol.ChannelAlerts:
		var alert protocol.AlertEvent
		if err := json.Unmarshal(msg.Payload, &alert); err != nil {
			l.decodeFailed(msg, err)
			return
		}
		if alert.Type == "" {
			l.decodeFailed(msg, errors.New("missing alert type"))
			return
		}
		l.alerts.Publish(alert)
	default:
		l.logger.Debug("忽略未知频道消息", zap.String("channel", msg.Channel))
	}
}

func (l *Listener) decodeFailed(msg *Message, err error) {
	l.stats.DecodeFailures.Inc()
	l.logger.Warn("丢弃无法解析的消息",
		zap.String("channel", msg.Channel),
		zap.Int("size", len(msg.Payload)),
		zap.Error(err))
}

// Stop 停止循环：清除运行标志并关闭订阅以唤醒阻塞的接收
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running.Load() {
		l.mu.Unlock()
		return
	}
	l.running.Store(false)
	subscription := l.current
	done := l.done
	l.mu.Unlock()

	if subscription != nil {
		_ = subscription.Close()
	}
	<-done
	l.logger.Info("订阅已停止")
}

// State 当前状态
func (l *Listener) State() ListenerState {
	if l.running.Load() {
		return ListenerRunning
	}
	return ListenerStopped
}

// Done 当前（或最近一次）循环结束时关闭
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err 最近一次异常退出的原因
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close 停止循环并关闭主题
func (l *Listener) Close() {
	l.Stop()
	l.metrics.Close()
	l.alerts.Close()
}
