package store

import "sync"

// RetentionBuffer 定长环形缓冲区，超出容量时淘汰最旧的元素
type RetentionBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

func NewRetentionBuffer[T any](capacity int) *RetentionBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RetentionBuffer[T]{items: make([]T, capacity)}
}

// Append 追加元素
func (b *RetentionBuffer[T]) Append(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.start+b.size)%capacity] = v
		b.size++
		return
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % capacity
}

// Snapshot 按从旧到新的顺序复制当前内容
func (b *RetentionBuffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Last 最新的元素
func (b *RetentionBuffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.start+b.size-1)%len(b.items)], true
}

func (b *RetentionBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *RetentionBuffer[T]) Cap() int {
	return len(b.items)
}
