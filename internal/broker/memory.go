package broker

import (
	"context"
	"sync"
	"time"

	"github.com/go-orz/cache"
)

// MemoryBroker 单进程部署使用的内存代理：TTL 键值 + 进程内发布订阅
type MemoryBroker struct {
	kv cache.Cache[string, []byte]

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBroker 创建内存代理
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		kv:   cache.New[string, []byte](time.Minute),
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

func (b *MemoryBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	if b.isClosed() {
		return unavailable("ping", ErrClosed)
	}
	return ctx.Err()
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return unavailable("publish", ErrClosed)
	}
	msg := &Message{Channel: channel, Payload: append([]byte(nil), payload...)}
	for sub := range b.subs[channel] {
		// 订阅者处理不过来时丢弃
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Exists(ctx context.Context, key string) (bool, error) {
	if b.isClosed() {
		return false, unavailable("exists", ErrClosed)
	}
	_, ok := b.kv.Get(key)
	return ok, nil
}

func (b *MemoryBroker) Get(ctx context.Context, key string) ([]byte, error) {
	if b.isClosed() {
		return nil, unavailable("get", ErrClosed)
	}
	v, ok := b.kv.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (b *MemoryBroker) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.isClosed() {
		return unavailable("setex", ErrClosed)
	}
	b.kv.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (b *MemoryBroker) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if b.isClosed() {
		return nil, unavailable("mget", ErrClosed)
	}
	out := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := b.kv.Get(key); ok {
			out[i] = v
		}
	}
	return out, nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, unavailable("subscribe", ErrClosed)
	}
	sub := &memorySubscription{
		broker:   b,
		channels: channels,
		ch:       make(chan *Message, 256),
		done:     make(chan struct{}),
	}
	for _, channel := range channels {
		if b.subs[channel] == nil {
			b.subs[channel] = make(map[*memorySubscription]struct{})
		}
		b.subs[channel][sub] = struct{}{}
	}
	return sub, nil
}

// Close 关闭代理，所有订阅随之断开
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for channel, subs := range b.subs {
		for sub := range subs {
			sub.closeOnce.Do(func() { close(sub.done) })
		}
		delete(b.subs, channel)
	}
	return nil
}

func (b *MemoryBroker) unsubscribe(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, channel := range sub.channels {
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
	}
}

type memorySubscription struct {
	broker    *MemoryBroker
	channels  []string
	ch        chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) ReceiveTimeout(ctx context.Context, d time.Duration) (*Message, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		if s.broker.isClosed() {
			return nil, unavailable("receive", ErrClosed)
		}
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (s *memorySubscription) Close() error {
	s.broker.unsubscribe(s)
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
