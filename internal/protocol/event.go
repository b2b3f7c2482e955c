package protocol

// 推送给浏览器的事件名
const (
	EventMetricsUpdate = "metrics_update"
	EventAlertUpdate   = "alert_update"
	EventAlert         = "alert"
	EventStatus        = "status"
)

// Envelope 推送帧
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// StatusData 连接握手时发送的状态
type StatusData struct {
	Msg      string `json:"msg"`
	ViewerID string `json:"viewerId,omitempty"`
}
