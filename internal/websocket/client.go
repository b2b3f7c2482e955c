package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client 一个实时连接。
// 每个连接只能有一个写者，因此广播先进入长度为 SendBuffer 的 send 队列，由 writePump 写出。
// 队列只用于交接，不做背压也不补发：队列满时直接丢弃消息并计入推送失败，慢连接只会落后不会阻塞广播。
type Client struct {
	ID      string
	conn    *websocket.Conn
	manager *Manager
	send    chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// enqueue 非阻塞投递，连接已关闭或队列已满时返回 false
func (c *Client) enqueue(message []byte) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close 只关闭 done，send 不关闭，避免并发广播向已关闭的通道写入
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump 只用于感知断开与处理 pong，浏览器发来的消息直接丢弃
func (c *Client) readPump() {
	defer c.manager.Unregister(c.ID)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.logger.Debug("连接异常断开", zap.String("viewerId", c.ID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !c.closed() {
					c.manager.deliveryFailed(c, err)
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.manager.deliveryFailed(c, err)
				return
			}
		}
	}
}
