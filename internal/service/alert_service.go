package service

import (
	"strconv"

	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/valyala/fasttemplate"
)

// 告警消息模板，{percent} 保留一位小数
var alertTemplates = map[protocol.AlertType]*fasttemplate.Template{
	protocol.AlertTypeCPU:    fasttemplate.New("High CPU usage: {percent}%", "{", "}"),
	protocol.AlertTypeMemory: fasttemplate.New("High memory usage: {percent}%", "{", "}"),
	protocol.AlertTypeDisk:   fasttemplate.New("High disk usage: {percent}%", "{", "}"),
}

// AlertService 告警推导
type AlertService struct {
	thresholds config.ThresholdConfig
}

func NewAlertService(thresholds config.ThresholdConfig) *AlertService {
	return &AlertService{thresholds: thresholds}
}

// CheckAlerts 检查样本是否超过阈值
func (s *AlertService) CheckAlerts(sample *protocol.MetricSample) []protocol.AlertEvent {
	return CheckAlerts(sample, s.thresholds)
}

// CheckAlerts 纯函数：按 cpu、memory、disk 的固定顺序返回严格超过阈值的告警
func CheckAlerts(sample *protocol.MetricSample, thresholds config.ThresholdConfig) []protocol.AlertEvent {
	checks := []struct {
		typ       protocol.AlertType
		value     float64
		threshold float64
	}{
		{protocol.AlertTypeCPU, sample.CPU.Percent, thresholds.CPU},
		{protocol.AlertTypeMemory, sample.Memory.Percent, thresholds.Memory},
		{protocol.AlertTypeDisk, sample.Disk.Percent, thresholds.Disk},
	}

	var alerts []protocol.AlertEvent
	for _, c := range checks {
		if c.value <= c.threshold {
			continue
		}
		alerts = append(alerts, protocol.AlertEvent{
			Type:      c.typ,
			Severity:  protocol.SeverityOf(c.typ),
			Message:   buildAlertMessage(c.typ, c.value),
			Timestamp: sample.Timestamp,
		})
	}
	return alerts
}

func buildAlertMessage(typ protocol.AlertType, value float64) string {
	return alertTemplates[typ].ExecuteString(map[string]interface{}{
		"percent": strconv.FormatFloat(value, 'f', 1, 64),
	})
}
