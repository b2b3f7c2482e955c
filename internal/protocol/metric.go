package protocol

import "time"

// 广播频道
const (
	ChannelMetrics = "system_metrics"
	ChannelAlerts  = "system_alerts"
)

// MetricSample 一次主机资源快照（由采样器创建，创建后不再修改）
type MetricSample struct {
	Timestamp time.Time   `json:"timestamp"` // UTC，秒级精度
	CPU       CPUData     `json:"cpu"`
	Memory    MemoryData  `json:"memory"`
	Disk      DiskData    `json:"disk"`
	Network   NetworkData `json:"network"`
	Processes uint64      `json:"processes"` // 进程数
}

// CPUData CPU 数据
type CPUData struct {
	Percent float64 `json:"percent"` // 使用率
	Count   uint64  `json:"count"`   // 逻辑核心数
}

// MemoryData 内存数据
type MemoryData struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

// DiskData 磁盘数据（根分区）
type DiskData struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"` // used/total*100，采集时计算
}

// NetworkData 网络累计计数（同一次开机内单调不减）
type NetworkData struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// DiskPercent 计算磁盘使用率
func DiskPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}
