package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhTranslations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置（启动后只读）
type AppConfig struct {
	Server    ServerConfig    `yaml:"Server"`
	Broker    BrokerConfig    `yaml:"Broker"`
	Sampler   SamplerConfig   `yaml:"Sampler"`
	Threshold ThresholdConfig `yaml:"Threshold"`
	Retention RetentionConfig `yaml:"Retention"`
	Gateway   GatewayConfig   `yaml:"Gateway"`
	Log       LogConfig       `yaml:"Log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr           string   `yaml:"Addr" validate:"required"`
	AllowedOrigins []string `yaml:"AllowedOrigins"` // 为空则允许所有来源
}

// BrokerConfig 消息代理配置
type BrokerConfig struct {
	URL           string        `yaml:"URL" validate:"required"`      // redis://host:port/db 或 memory://
	ProbeInterval time.Duration `yaml:"ProbeInterval" validate:"gt=0"` // 断线重连探测间隔
	ReceiveWait   time.Duration `yaml:"ReceiveWait" validate:"gt=0"`   // 订阅循环单次等待上限
}

// SamplerConfig 采样配置
type SamplerConfig struct {
	Interval  time.Duration `yaml:"Interval" validate:"gte=1s"`
	DiskPath  string        `yaml:"DiskPath" validate:"required"`
	CPUWindow time.Duration `yaml:"CPUWindow" validate:"gte=0"` // CPU 使用率采样窗口
}

// ThresholdConfig 告警阈值（百分比）
type ThresholdConfig struct {
	CPU    float64 `yaml:"CPU" validate:"gte=0,lte=100"`
	Memory float64 `yaml:"Memory" validate:"gte=0,lte=100"`
	Disk   float64 `yaml:"Disk" validate:"gte=0,lte=100"`
}

// RetentionConfig 保留策略
type RetentionConfig struct {
	Capacity      int           `yaml:"Capacity" validate:"gte=1"`          // 内存环形缓冲区容量
	AlertCapacity int           `yaml:"AlertCapacity" validate:"gte=1"`     // 内存告警缓冲区容量
	TTL           time.Duration `yaml:"TTL" validate:"gte=1h,lte=24h"`      // 历史键过期时间
	LatestTTL     time.Duration `yaml:"LatestTTL" validate:"gt=0"`          // latest_metrics 过期时间
	HistoryStep   time.Duration `yaml:"HistoryStep" validate:"gte=1s"`      // 历史查询探测步长
	AlertLimit    int           `yaml:"AlertLimit" validate:"gte=1,lte=500"` // 告警查询默认条数
}

// GatewayConfig 推送网关配置
type GatewayConfig struct {
	// AlertEvents 告警推送事件名，兼容 alert_update 与 alert 两种前端
	AlertEvents []string      `yaml:"AlertEvents" validate:"min=1,dive,oneof=alert_update alert"`
	SendBuffer  int           `yaml:"SendBuffer" validate:"gte=1"`
	WriteWait   time.Duration `yaml:"WriteWait" validate:"gt=0"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"Level" validate:"omitempty,oneof=debug info warn error"`
	File       string `yaml:"File"`
	MaxSize    int    `yaml:"MaxSize"`
	MaxBackups int    `yaml:"MaxBackups"`
	MaxAge     int    `yaml:"MaxAge"`
	Compress   bool   `yaml:"Compress"`
}

// Default 返回默认配置
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Broker: BrokerConfig{
			URL:           "redis://localhost:6379/0",
			ProbeInterval: 10 * time.Second,
			ReceiveWait:   time.Second,
		},
		Sampler: SamplerConfig{
			Interval:  5 * time.Second,
			DiskPath:  "/",
			CPUWindow: time.Second,
		},
		Threshold: ThresholdConfig{
			CPU:    80,
			Memory: 85,
			Disk:   90,
		},
		Retention: RetentionConfig{
			Capacity:      100,
			AlertCapacity: 50,
			TTL:           24 * time.Hour,
			LatestTTL:     60 * time.Second,
			HistoryStep:   time.Minute,
			AlertLimit:    50,
		},
		Gateway: GatewayConfig{
			AlertEvents: []string{"alert_update"},
			SendBuffer:  16,
			WriteWait:   10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Load 加载配置：默认值 -> YAML 文件 -> .env / 环境变量，最后校验
func Load(fs afero.Fs, path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 没有配置文件时使用默认值
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖，兼容旧版本的变量名
func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Broker.URL = v
	} else if host, ok := lookup("REDIS_HOST"); ok && host != "" {
		port := "6379"
		if p, ok := lookup("REDIS_PORT"); ok && p != "" {
			port = p
		}
		db := "0"
		if d, ok := lookup("REDIS_DB"); ok && d != "" {
			db = d
		}
		auth := ""
		if pw, ok := lookup("REDIS_PASSWORD"); ok && pw != "" {
			auth = ":" + pw + "@"
		}
		c.Broker.URL = fmt.Sprintf("redis://%s%s/%s", auth, net.JoinHostPort(host, port), db)
	}

	if v, ok := lookup("METRICS_INTERVAL"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("METRICS_INTERVAL 无效: %w", err)
		}
		c.Sampler.Interval = d
	}

	floats := map[string]*float64{
		"ALERT_THRESHOLD_CPU":    &c.Threshold.CPU,
		"ALERT_THRESHOLD_MEMORY": &c.Threshold.Memory,
		"ALERT_THRESHOLD_DISK":   &c.Threshold.Disk,
	}
	for key, dst := range floats {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s 无效: %w", key, err)
			}
			*dst = f
		}
	}

	if v, ok := lookup("RETENTION_CAPACITY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RETENTION_CAPACITY 无效: %w", err)
		}
		c.Retention.Capacity = n
	}
	if v, ok := lookup("RETENTION_TTL"); ok && v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("RETENTION_TTL 无效: %w", err)
		}
		c.Retention.TTL = d
	}
	if v, ok := lookup("ALERT_EVENTS"); ok && v != "" {
		var events []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				events = append(events, e)
			}
		}
		c.Gateway.AlertEvents = events
	}
	if v, ok := lookup("HTTP_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// parseSeconds 支持 "5" 与 "5s" 两种写法
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate 校验配置，错误信息翻译为中文
func (c *AppConfig) Validate() error {
	validate := validator.New()
	locale := zh.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("zh")
	if err := zhTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return err
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+": "+fe.Translate(trans))
	}
	return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, "; "))
}
