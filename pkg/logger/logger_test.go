package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dushixiang/pika-relay/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "relay.log")
	log := New(config.LogConfig{Level: "warn", File: file, MaxSize: 1})

	log.Info("不应该输出")
	log.Warn("采样失败")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "不应该输出") {
		t.Errorf("warn 级别下不应输出 info 日志: %s", content)
	}
	if !strings.Contains(content, "采样失败") || !strings.Contains(content, "WARN") {
		t.Errorf("日志内容缺失: %s", content)
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(config.LogConfig{Level: "verbose"})
	if !log.Core().Enabled(0) {
		t.Errorf("未知级别应回退到 info")
	}
	if log.Core().Enabled(-1) {
		t.Errorf("info 级别不应启用 debug")
	}
}
