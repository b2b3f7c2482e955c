package handler

import (
	"net/http"

	"github.com/dushixiang/pika-relay/internal/stats"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// NewRouter 注册所有路由
func NewRouter(logger *zap.Logger, metricHandler *MetricHandler, wsHandler *WebSocketHandler, st *stats.Stats) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	api := e.Group("/api")
	api.GET("/metrics/latest", metricHandler.GetLatest)
	api.GET("/metrics/history", metricHandler.GetHistory)
	api.GET("/alerts", metricHandler.GetAlerts)
	api.GET("/health", metricHandler.Health)

	e.GET("/ws", wsHandler.Serve)
	e.GET("/metrics", echo.WrapHandler(st.Handler()))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "pika-relay")
	})
	return e
}
