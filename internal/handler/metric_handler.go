package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dushixiang/pika-relay/internal/metric"
	"github.com/dushixiang/pika-relay/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultWindow = 24 * time.Hour
	maxAlertLimit = 500
)

// MetricHandler 指标查询
type MetricHandler struct {
	logger  *zap.Logger
	service *service.MetricService
}

func NewMetricHandler(logger *zap.Logger, service *service.MetricService) *MetricHandler {
	return &MetricHandler{
		logger:  logger,
		service: service,
	}
}

// GetLatest 最新样本
// GET /api/metrics/latest
func (h *MetricHandler) GetLatest(c echo.Context) error {
	sample, err := h.service.GetLatest(c.Request().Context())
	if errors.Is(err, service.ErrNoMetrics) {
		return c.JSON(http.StatusNotFound, metric.ErrorResponse{Error: "No metrics available"})
	}
	if err != nil {
		h.logger.Error("获取最新指标失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, metric.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, sample)
}

// GetHistory 历史样本，window=0 时返回内存缓冲区
// GET /api/metrics/history?window=24h
func (h *MetricHandler) GetHistory(c echo.Context) error {
	window, err := parseWindow(c.QueryParam("window"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, metric.ErrorResponse{Error: "window 参数错误"})
	}

	samples, err := h.service.GetHistory(c.Request().Context(), window)
	if err != nil {
		h.logger.Error("获取历史指标失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, metric.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, samples)
}

// GetAlerts 告警列表，按时间倒序
// GET /api/alerts?window=24h&limit=50
func (h *MetricHandler) GetAlerts(c echo.Context) error {
	window, err := parseWindow(c.QueryParam("window"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, metric.ErrorResponse{Error: "window 参数错误"})
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, metric.ErrorResponse{Error: "limit 参数错误"})
		}
		if limit > maxAlertLimit {
			limit = maxAlertLimit
		}
	}

	alerts, err := h.service.GetAlerts(c.Request().Context(), window, limit)
	if err != nil {
		h.logger.Error("获取告警失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, metric.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, alerts)
}

// Health 健康检查，unhealthy 时返回 503
// GET /api/health
func (h *MetricHandler) Health(c echo.Context) error {
	health := h.service.Health(c.Request().Context())
	code := http.StatusOK
	if health.Status == metric.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}

func parseWindow(v string) (time.Duration, error) {
	if v == "" {
		return defaultWindow, nil
	}
	window, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if window < 0 {
		return 0, errors.New("negative window")
	}
	return window, nil
}
