package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisBroker) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("NewRedisBroker() 失败: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestRedisBrokerKV(t *testing.T) {
	mr, b := newRedis(t)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping() 失败: %v", err)
	}

	if err := b.SetEX(ctx, "metrics:100", []byte(`{"a":1}`), time.Hour); err != nil {
		t.Fatalf("SetEX() 失败: %v", err)
	}
	if ttl := mr.TTL("metrics:100"); ttl != time.Hour {
		t.Errorf("TTL = %v，期望 1h", ttl)
	}

	ok, err := b.Exists(ctx, "metrics:100")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	data, err := b.Get(ctx, "metrics:100")
	if err != nil || string(data) != `{"a":1}` {
		t.Fatalf("Get() = %s, %v", data, err)
	}

	if _, err := b.Get(ctx, "metrics:101"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("缺失的键应返回 ErrNotFound，实际 %v", err)
	}

	values, err := b.GetMany(ctx, []string{"metrics:99", "metrics:100"})
	if err != nil {
		t.Fatalf("GetMany() 失败: %v", err)
	}
	if values[0] != nil || string(values[1]) != `{"a":1}` {
		t.Fatalf("GetMany() = %q", values)
	}

	mr.FastForward(2 * time.Hour)
	if ok, _ := b.Exists(ctx, "metrics:100"); ok {
		t.Fatal("过期后键不应存在")
	}
}

func TestRedisBrokerPubSub(t *testing.T) {
	_, b := newRedis(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "system_metrics", "system_alerts")
	if err != nil {
		t.Fatalf("Subscribe() 失败: %v", err)
	}
	defer sub.Close()

	msg, err := sub.ReceiveTimeout(ctx, 50*time.Millisecond)
	if err != nil || msg != nil {
		t.Fatalf("无消息时应超时返回 nil，实际 %v, %v", msg, err)
	}

	if err := b.Publish(ctx, "system_alerts", []byte("hello")); err != nil {
		t.Fatalf("Publish() 失败: %v", err)
	}
	msg, err = sub.ReceiveTimeout(ctx, time.Second)
	if err != nil || msg == nil {
		t.Fatalf("ReceiveTimeout() = %v, %v", msg, err)
	}
	if msg.Channel != "system_alerts" || string(msg.Payload) != "hello" {
		t.Fatalf("收到错误消息: %+v", msg)
	}
}

func TestRedisBrokerUnavailable(t *testing.T) {
	mr, b := newRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.Ping(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Ping() 应返回 ErrUnavailable，实际 %v", err)
	}
	if err := b.Publish(ctx, "system_metrics", []byte("x")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Publish() 应返回 ErrUnavailable，实际 %v", err)
	}
	if _, err := b.Subscribe(ctx, "system_metrics"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Subscribe() 应返回 ErrUnavailable，实际 %v", err)
	}
}

func TestOpen(t *testing.T) {
	b, err := Open("memory://")
	if err != nil {
		t.Fatalf("Open(memory://) 失败: %v", err)
	}
	if _, ok := b.(*MemoryBroker); !ok {
		t.Fatalf("期望 MemoryBroker，实际 %T", b)
	}

	b, err = Open("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("Open(redis://) 失败: %v", err)
	}
	if _, ok := b.(*RedisBroker); !ok {
		t.Fatalf("期望 RedisBroker，实际 %T", b)
	}
	_ = b.Close()

	if _, err := Open("amqp://localhost"); err == nil {
		t.Fatal("不支持的协议应报错")
	}
}
