package main

import (
	"fmt"
	"os"

	"github.com/dushixiang/pika-relay/internal/config"
	"github.com/dushixiang/pika-relay/pkg/service"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pika-relay",
		Short:         "实时主机指标中继",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")

	root.AddCommand(newServeCmd(), newVersionCmd(), newServiceCmd())
	return root
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(afero.NewOsFs(), configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

func newServiceManager() (*service.ServiceManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return service.NewServiceManager(cfg, configPath)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "前台运行（由服务管理器启动时同样使用此命令）",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			return mgr.Run()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "管理系统服务",
	}

	actions := []struct {
		use   string
		short string
		run   func(m *service.ServiceManager) error
		done  string
	}{
		{"install", "安装系统服务", (*service.ServiceManager).Install, "服务已安装"},
		{"uninstall", "卸载系统服务", (*service.ServiceManager).Uninstall, "服务已卸载"},
		{"start", "启动系统服务", (*service.ServiceManager).Start, "服务已启动"},
		{"stop", "停止系统服务", (*service.ServiceManager).Stop, "服务已停止"},
		{"restart", "重启系统服务", (*service.ServiceManager).Restart, "服务已重启"},
	}
	for _, action := range actions {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use,
			Short: action.short,
			RunE: func(c *cobra.Command, args []string) error {
				mgr, err := newServiceManager()
				if err != nil {
					return err
				}
				if err := action.run(mgr); err != nil {
					return err
				}
				fmt.Fprintln(c.OutOrStdout(), action.done)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "查看系统服务状态",
		RunE: func(c *cobra.Command, args []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			status, err := mgr.Status()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), status)
			return nil
		},
	})
	return cmd
}
