package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// mgetBatch 单次 MGET 的键数量
const mgetBatch = 512

// RedisBroker 基于 Redis 的发布订阅与 TTL 存储
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker 解析 redis:// 地址并创建客户端（不立即连接）
func NewRedisBroker(url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("解析 Redis 地址失败: %w", err)
	}
	return &RedisBroker{client: redis.NewClient(opts)}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

func (b *RedisBroker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

func (b *RedisBroker) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return data, nil
}

func (b *RedisBroker) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("setex", err)
	}
	return nil
}

func (b *RedisBroker) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, 0, len(keys))
	for start := 0; start < len(keys); start += mgetBatch {
		end := min(start+mgetBatch, len(keys))
		values, err := b.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, unavailable("mget", err)
		}
		for _, v := range values {
			switch val := v.(type) {
			case string:
				out = append(out, []byte(val))
			case []byte:
				out = append(out, val)
			default:
				out = append(out, nil)
			}
		}
	}
	return out, nil
}

// Subscribe 订阅频道，并等待服务端确认
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("subscribe", err)
	}
	return &redisSubscription{ps: ps}, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) ReceiveTimeout(ctx context.Context, d time.Duration) (*Message, error) {
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, nil
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, unavailable("receive", err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			return &Message{Channel: m.Channel, Payload: []byte(m.Payload)}, nil
		case *redis.Subscription, *redis.Pong:
			// 控制消息，继续等待
			continue
		default:
			return nil, nil
		}
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
