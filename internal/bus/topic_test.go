package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-errors/errors"
)

func TestTopicFanOut(t *testing.T) {
	topic := NewTopic[int]("metrics", nil)
	a, cancelA := topic.Subscribe(4)
	b, cancelB := topic.Subscribe(4)
	defer cancelA()
	defer cancelB()

	topic.Publish(1)
	topic.Publish(2)

	for _, ch := range []<-chan int{a, b} {
		if v := <-ch; v != 1 {
			t.Errorf("期望 1，实际 %d", v)
		}
		if v := <-ch; v != 2 {
			t.Errorf("期望 2，实际 %d", v)
		}
	}
}

func TestTopicDropsWhenFull(t *testing.T) {
	var drops atomic.Int32
	topic := NewTopic[int]("alerts", func(name string) {
		if name != "alerts" {
			t.Errorf("回调主题名错误: %s", name)
		}
		drops.Add(1)
	})
	ch, cancel := topic.Subscribe(1)
	defer cancel()

	topic.Publish(1)
	topic.Publish(2) // 缓冲已满，不应阻塞

	if got := drops.Load(); got != 1 {
		t.Fatalf("期望丢弃 1 条，实际 %d", got)
	}
	if v := <-ch; v != 1 {
		t.Fatalf("期望保留第一条，实际 %d", v)
	}
}

func TestTopicCancelAndClose(t *testing.T) {
	topic := NewTopic[string]("metrics", nil)
	ch, cancel := topic.Subscribe(1)
	cancel()
	cancel() // 重复取消不应 panic

	if _, ok := <-ch; ok {
		t.Fatal("取消后通道应关闭")
	}
	if n := topic.Subscribers(); n != 0 {
		t.Fatalf("取消后订阅者应为 0，实际 %d", n)
	}

	other, _ := topic.Subscribe(1)
	topic.Close()
	topic.Close()
	topic.Publish("ignored")
	if _, ok := <-other; ok {
		t.Fatal("Close 后通道应关闭")
	}

	late, _ := topic.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatal("已关闭主题的新订阅应立即关闭")
	}
}

func TestConsumeRecoversPanic(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	var handled []int
	var panicked int
	Consume(context.Background(), ch, func(v int) {
		if v == 2 {
			panic("bad consumer")
		}
		handled = append(handled, v)
	}, func(err *errors.Error) {
		panicked++
		if err.ErrorStack() == "" {
			t.Error("应包含堆栈")
		}
	})

	if panicked != 1 {
		t.Fatalf("期望捕获 1 次 panic，实际 %d", panicked)
	}
	if len(handled) != 2 || handled[0] != 1 || handled[1] != 3 {
		t.Fatalf("panic 后应继续消费，实际 %v", handled)
	}
}

func TestConsumeStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan int)
	done := make(chan struct{})
	go func() {
		Consume(ctx, ch, func(int) {}, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ctx 取消后 Consume 应返回")
	}
}
