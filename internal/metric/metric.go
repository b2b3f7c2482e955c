package metric

import "time"

// HealthStatus 三值健康状态
type HealthStatus string

const (
	// StatusHealthy 代理可达。数据是否新鲜单独由 services.data 给出，
	// 代理可达但 data 为 stale 时仍为 healthy，调用方需同时检查 data。
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"  // 代理不可达，使用内存回退
	StatusUnhealthy HealthStatus = "unhealthy" // 代理可达但调用出错
)

// 组件状态取值
const (
	BrokerConnected    = "connected"
	BrokerDisconnected = "disconnected"
	BrokerError        = "error"

	ComponentRunning = "running"
	ComponentStopped = "stopped"
	ComponentStalled = "stalled" // 采样循环在运行但超过两个周期未成功采集

	DataFresh = "fresh"
	DataStale = "stale"
)

// Services 各组件状态
type Services struct {
	Broker   string `json:"broker"`
	Sampler  string `json:"sampler"`
	Listener string `json:"listener"`
	Viewers  int    `json:"viewers"` // 当前在线的实时连接数
	Data     string `json:"data"`
}

// Health 健康检查结果
type Health struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Mode      string       `json:"mode"`  // NORMAL / DEGRADED
	Since     time.Time    `json:"since"` // 进入当前模式的时间
	Services  Services     `json:"services"`
	Error     string       `json:"error,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
