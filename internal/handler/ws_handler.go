package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dushixiang/pika-relay/internal/websocket"
	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// WebSocketHandler 实时推送
type WebSocketHandler struct {
	logger   *zap.Logger
	manager  *websocket.Manager
	upgrader ws.Upgrader
}

// NewWebSocketHandler allowedOrigins 为空时允许所有来源
func NewWebSocketHandler(logger *zap.Logger, manager *websocket.Manager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		logger:  logger,
		manager: manager,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// Serve GET /ws
func (h *WebSocketHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("升级 WebSocket 失败", zap.Error(err))
		return nil
	}
	h.manager.Serve(conn)
	return nil
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		hosts[strings.ToLower(strings.TrimSuffix(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
