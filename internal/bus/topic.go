package bus

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
	"github.com/sourcegraph/conc/panics"
)

// Topic 类型化的事件主题，每个订阅者拥有独立的缓冲通道
type Topic[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
	closed bool
	onDrop func(topic string)
}

// NewTopic 创建主题，onDrop 在订阅者缓冲区满而丢弃事件时回调
func NewTopic[T any](name string, onDrop func(topic string)) *Topic[T] {
	return &Topic[T]{
		name:   name,
		subs:   make(map[int]chan T),
		onDrop: onDrop,
	}
}

// Name 主题名
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe 订阅主题，返回只读通道与取消函数（可重复调用）
func (t *Topic[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Publish 非阻塞投递，慢消费者直接丢弃
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
			if t.onDrop != nil {
				t.onDrop(t.name)
			}
		}
	}
}

// Subscribers 当前订阅者数量
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close 关闭主题及所有订阅通道
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// Consume 逐条处理通道事件直到通道关闭或 ctx 结束。
// 单条事件处理 panic 只会回调 onPanic，不会终止消费循环。
func Consume[T any](ctx context.Context, ch <-chan T, handle func(T), onPanic func(err *errors.Error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			var pc panics.Catcher
			pc.Try(func() { handle(v) })
			if r := pc.Recovered(); r != nil && onPanic != nil {
				onPanic(errors.Wrap(r.Value, 0))
			}
		}
	}
}
