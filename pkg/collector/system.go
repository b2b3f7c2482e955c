package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/pika-relay/internal/protocol"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemCollector 主机资源采集器
type SystemCollector struct {
	diskPath  string
	cpuWindow time.Duration
}

// NewSystemCollector 创建采集器，cpuWindow 为 CPU 使用率的采样窗口（会阻塞该时长）
func NewSystemCollector(diskPath string, cpuWindow time.Duration) *SystemCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemCollector{
		diskPath:  diskPath,
		cpuWindow: cpuWindow,
	}
}

// Collect 采集一次快照，时间戳取 UTC 秒级
func (c *SystemCollector) Collect(ctx context.Context) (*protocol.MetricSample, error) {
	timestamp := time.Now().UTC().Truncate(time.Second)

	percents, err := cpu.PercentWithContext(ctx, c.cpuWindow, false)
	if err != nil {
		return nil, fmt.Errorf("采集 CPU 使用率失败: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("采集 CPU 核心数失败: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("采集内存失败: %w", err)
	}

	usage, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return nil, fmt.Errorf("采集磁盘失败: %w", err)
	}

	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("采集网络失败: %w", err)
	}
	var network protocol.NetworkData
	if len(counters) > 0 {
		network = protocol.NetworkData{
			BytesSent:   counters[0].BytesSent,
			BytesRecv:   counters[0].BytesRecv,
			PacketsSent: counters[0].PacketsSent,
			PacketsRecv: counters[0].PacketsRecv,
		}
	}

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("采集进程数失败: %w", err)
	}

	return &protocol.MetricSample{
		Timestamp: timestamp,
		CPU: protocol.CPUData{
			Percent: cpuPercent,
			Count:   uint64(cores),
		},
		Memory: protocol.MemoryData{
			Total:     vm.Total,
			Available: vm.Available,
			Used:      vm.Used,
			Percent:   vm.UsedPercent,
		},
		Disk: protocol.DiskData{
			Total: usage.Total,
			Used:  usage.Used,
			Free:  usage.Free,
			// 按 used/total 计算
			Percent: protocol.DiskPercent(usage.Used, usage.Total),
		},
		Network:   network,
		Processes: uint64(len(pids)),
	}, nil
}
