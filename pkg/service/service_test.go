package service

import (
	"testing"

	"github.com/kardianos/service"
)

func TestStatusText(t *testing.T) {
	tests := []struct {
		status service.Status
		want   string
	}{
		{service.StatusRunning, "运行中 (Running)"},
		{service.StatusStopped, "已停止 (Stopped)"},
		{service.StatusUnknown, "未知 (Unknown)"},
		{service.Status(9), "状态: 9"},
	}
	for _, tt := range tests {
		if got := StatusText(tt.status); got != tt.want {
			t.Errorf("StatusText(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
