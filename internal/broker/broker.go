package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable 无法连接到代理
	ErrUnavailable = errors.New("broker unavailable")
	// ErrNotFound 键不存在或已过期
	ErrNotFound = errors.New("key not found")
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("broker closed")
)

// Message 订阅收到的原始消息
type Message struct {
	Channel string
	Payload []byte
}

// Publisher 发布消息（不保证送达，不确认）
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// KV 带过期时间的键值空间
type KV interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// GetMany 批量读取，缺失的键对应 nil
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
}

// Subscription 一个长连接订阅
type Subscription interface {
	// ReceiveTimeout 最多等待 d，超时返回 (nil, nil)；连接断开返回错误
	ReceiveTimeout(ctx context.Context, d time.Duration) (*Message, error)
	Close() error
}

// Subscriber 创建订阅
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Broker 消息代理与 TTL 存储
type Broker interface {
	Publisher
	Subscriber
	KV
	Ping(ctx context.Context) error
	Close() error
}

// Open 根据地址创建代理：redis://... 或 memory://
func Open(endpoint string) (Broker, error) {
	switch {
	case strings.HasPrefix(endpoint, "memory://"):
		return NewMemoryBroker(), nil
	case strings.HasPrefix(endpoint, "redis://"), strings.HasPrefix(endpoint, "rediss://"):
		return NewRedisBroker(endpoint)
	default:
		return nil, fmt.Errorf("不支持的代理地址: %s", endpoint)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
