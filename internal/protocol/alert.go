package protocol

import "time"

// AlertType 告警类型
type AlertType string

const (
	AlertTypeCPU    AlertType = "cpu"
	AlertTypeMemory AlertType = "memory"
	AlertTypeDisk   AlertType = "disk"
)

// Severity 告警级别
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityOf 告警级别是固定映射：磁盘为 critical，CPU/内存为 high
func SeverityOf(t AlertType) Severity {
	if t == AlertTypeDisk {
		return SeverityCritical
	}
	return SeverityHigh
}

// AlertEvent 由样本与阈值推导出的告警事件
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"` // 取自触发告警的样本
}
