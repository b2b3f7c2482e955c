package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/pika-relay/internal/bus"
	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/dushixiang/pika-relay/internal/stats"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// StatusConnected 握手时发送的状态消息
const StatusConnected = "Connected to System Monitor"

// Manager 实时连接管理与广播
type Manager struct {
	logger      *zap.Logger
	stats       *stats.Stats
	alertEvents []string
	sendBuffer  int
	writeWait   time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewManager(logger *zap.Logger, st *stats.Stats, cfg config.GatewayConfig) *Manager {
	alertEvents := cfg.AlertEvents
	if len(alertEvents) == 0 {
		alertEvents = []string{protocol.EventAlertUpdate}
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	writeWait := cfg.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &Manager{
		logger:      logger,
		stats:       st,
		alertEvents: alertEvents,
		sendBuffer:  sendBuffer,
		writeWait:   writeWait,
		clients:     make(map[string]*Client),
	}
}

func (m *Manager) newClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:      uuid.NewString(),
		conn:    conn,
		manager: m,
		send:    make(chan []byte, m.sendBuffer),
		done:    make(chan struct{}),
	}
}

func (m *Manager) add(c *Client) {
	m.mu.Lock()
	m.clients[c.ID] = c
	count := len(m.clients)
	m.mu.Unlock()
	m.stats.ViewersConnected.Set(float64(count))
}

// Serve 注册连接并阻塞到连接断开
func (m *Manager) Serve(conn *websocket.Conn) {
	c := m.newClient(conn)
	m.add(c)

	if err := m.SendToClient(c.ID, protocol.EventStatus, protocol.StatusData{Msg: StatusConnected, ViewerID: c.ID}); err != nil {
		m.logger.Warn("发送握手状态失败", zap.String("viewerId", c.ID), zap.Error(err))
	}
	m.logger.Info("实时连接已建立", zap.String("viewerId", c.ID), zap.Int("viewers", m.Count()))

	go c.writePump()
	c.readPump()
}

// Unregister 移除连接，可与广播并发调用，重复调用无副作用
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	c, ok := m.clients[id]
	if ok {
		delete(m.clients, id)
	}
	count := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	m.stats.ViewersConnected.Set(float64(count))
	m.logger.Info("实时连接已断开", zap.String("viewerId", id), zap.Int("viewers", count))
}

func (m *Manager) snapshot() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

// Broadcast 向所有连接推送事件，单个连接失败不影响其他连接
func (m *Manager) Broadcast(event string, data interface{}) {
	message, err := encode(event, data)
	if err != nil {
		m.logger.Error("序列化推送消息失败", zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range m.snapshot() {
		if !c.enqueue(message) {
			m.stats.ViewerFailures.Inc()
			m.logger.Debug("连接发送队列已满，丢弃消息", zap.String("viewerId", c.ID), zap.String("event", event))
		}
	}
}

// BroadcastAlert 按配置的事件名推送告警
func (m *Manager) BroadcastAlert(alert protocol.AlertEvent) {
	for _, event := range m.alertEvents {
		m.Broadcast(event, alert)
	}
}

// SendToClient 向指定连接推送事件
func (m *Manager) SendToClient(id string, event string, data interface{}) error {
	m.mu.RLock()
	c, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("连接不存在: %s", id)
	}
	message, err := encode(event, data)
	if err != nil {
		return err
	}
	if !c.enqueue(message) {
		m.stats.ViewerFailures.Inc()
		return fmt.Errorf("连接发送队列已满: %s", id)
	}
	return nil
}

// GetAllClients 当前所有连接 ID
func (m *Manager) GetAllClients() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// Count 当前连接数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Run 消费指标与告警主题并广播，直到 ctx 结束或主题关闭
func (m *Manager) Run(ctx context.Context, metrics <-chan protocol.MetricSample, alerts <-chan protocol.AlertEvent) {
	var wg conc.WaitGroup
	wg.Go(func() {
		bus.Consume(ctx, metrics, func(sample protocol.MetricSample) {
			m.Broadcast(protocol.EventMetricsUpdate, sample)
		}, m.recovered)
	})
	wg.Go(func() {
		bus.Consume(ctx, alerts, m.BroadcastAlert, m.recovered)
	})
	wg.Wait()
}

// Close 断开所有连接
func (m *Manager) Close() {
	for _, id := range m.GetAllClients() {
		m.Unregister(id)
	}
}

func (m *Manager) recovered(err *errors.Error) {
	m.logger.Error("广播时发生 panic", zap.Error(err), zap.String("stack", string(err.Stack())))
}

func (m *Manager) deliveryFailed(c *Client, err error) {
	m.stats.ViewerFailures.Inc()
	m.logger.Debug("推送失败，断开连接", zap.String("viewerId", c.ID), zap.Error(err))
	m.Unregister(c.ID)
}

func encode(event string, data interface{}) ([]byte, error) {
	return json.Marshal(protocol.Envelope{Event: event, Data: data})
}
