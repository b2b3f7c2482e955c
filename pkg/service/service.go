package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/internal/server"
	"github.com/dushixiang/pika-relay/pkg/logger"
	"github.com/kardianos/service"
	"go.uber.org/zap"
)

// program 实现 service.Interface
type program struct {
	cfg    *config.AppConfig
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// Start 启动服务，不阻塞
func (p *program) Start(s service.Service) error {
	p.logger.Info("Pika Relay 服务启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := server.Run(ctx, p.cfg, p.logger); err != nil {
			p.logger.Error("服务运行出错", zap.Error(err))
		}
	}()
	return nil
}

// Stop 停止服务
func (p *program) Stop(s service.Service) error {
	p.logger.Info("Pika Relay 服务停止中...")

	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}

	p.logger.Info("Pika Relay 服务已停止")
	return nil
}

// ServiceManager 服务管理器
type ServiceManager struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	service service.Service
}

// NewServiceManager 创建服务管理器，configPath 会作为 serve 命令的参数写入服务配置
func NewServiceManager(cfg *config.AppConfig, configPath string) (*ServiceManager, error) {
	// 获取可执行文件路径
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("获取可执行文件路径失败: %w", err)
	}

	svcConfig := &service.Config{
		Name:        "pika-relay",
		DisplayName: "Pika Relay",
		Description: "Pika 实时指标中继 - 采集主机指标并推送给在线的浏览器",
		Arguments:   []string{"serve", "--config", configPath},
		Executable:  execPath,
		Option: service.KeyValue{
			// Linux systemd 配置
			"Restart":            "always",
			"RestartSec":         "10",
			"StartLimitInterval": "0",
			"KillMode":           "process",

			// Windows 配置
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// 其他 Unix 系统 (upstart/launchd)
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	log := logger.New(cfg.Log)
	prg := &program{
		cfg:    cfg,
		logger: log,
	}

	s, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("创建服务失败: %w", err)
	}

	return &ServiceManager{
		cfg:     cfg,
		logger:  log,
		service: s,
	}, nil
}

// Install 安装服务
func (m *ServiceManager) Install() error {
	return m.service.Install()
}

// Uninstall 卸载服务
func (m *ServiceManager) Uninstall() error {
	// 先停止服务
	_ = m.service.Stop()

	return m.service.Uninstall()
}

// Start 启动服务
func (m *ServiceManager) Start() error {
	return m.service.Start()
}

// Stop 停止服务
func (m *ServiceManager) Stop() error {
	return m.service.Stop()
}

// Restart 重启服务
func (m *ServiceManager) Restart() error {
	return m.service.Restart()
}

// Status 查看服务状态
func (m *ServiceManager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}
	return StatusText(status), nil
}

// StatusText 服务状态的可读文本
func StatusText(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "运行中 (Running)"
	case service.StatusStopped:
		return "已停止 (Stopped)"
	case service.StatusUnknown:
		return "未知 (Unknown)"
	default:
		return fmt.Sprintf("状态: %d", status)
	}
}

// Run 在服务管理器下运行；交互模式下前台运行直到收到中断信号
func (m *ServiceManager) Run() error {
	if !service.Interactive() {
		return m.service.Run()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m.logger.Info("配置加载成功",
		zap.String("addr", m.cfg.Server.Addr),
		zap.String("broker", m.cfg.Broker.URL),
		zap.Duration("interval", m.cfg.Sampler.Interval))

	err := server.Run(ctx, m.cfg, m.logger)
	m.logger.Info("服务已退出")
	return err
}
