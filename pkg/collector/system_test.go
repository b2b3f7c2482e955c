package collector

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestSystemCollectorCollect(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("仅在 Linux/macOS 上运行")
	}

	c := NewSystemCollector("/", 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sample, err := c.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() 失败: %v", err)
	}

	if sample.Timestamp.Location().String() != "UTC" {
		t.Errorf("时间戳应为 UTC: %v", sample.Timestamp)
	}
	if sample.Timestamp.Nanosecond() != 0 {
		t.Errorf("时间戳应为秒级精度: %v", sample.Timestamp)
	}
	if sample.CPU.Count == 0 {
		t.Error("CPU 核心数不应为 0")
	}
	if sample.Memory.Total == 0 {
		t.Error("内存总量不应为 0")
	}
	if sample.Disk.Total == 0 {
		t.Error("磁盘总量不应为 0")
	}
	if sample.Processes == 0 {
		t.Error("进程数不应为 0")
	}
	if sample.Disk.Percent < 0 || sample.Disk.Percent > 100 {
		t.Errorf("磁盘使用率超出范围: %f", sample.Disk.Percent)
	}
}
