// Package ringbuf is a fixed-capacity circular buffer. Once full, each push
// overwrites the oldest item in place. Buffers are not safe for concurrent
// use; callers hold their own lock.
package ringbuf

type Buffer[T any] struct {
	items    []T
	capacity int
	// head is the oldest item once the buffer has wrapped
	head int
}

// New returns an empty buffer holding at most capacity items. A
// non-positive capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{capacity: capacity}
}

func (b *Buffer[T]) Push(v T) {
	if len(b.items) < b.capacity {
		b.items = append(b.items, v)
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % b.capacity
}

func (b *Buffer[T]) Len() int { return len(b.items) }

func (b *Buffer[T]) Cap() int { return b.capacity }

// at returns the i-th item counting from the oldest.
func (b *Buffer[T]) at(i int) T {
	return b.items[(b.head+i)%len(b.items)]
}

// Each calls fn from newest to oldest until fn returns false.
func (b *Buffer[T]) Each(fn func(T) bool) {
	for i := len(b.items) - 1; i >= 0; i-- {
		if !fn(b.at(i)) {
			return
		}
	}
}

// Newest copies up to limit items, newest first. limit <= 0 means all.
func (b *Buffer[T]) Newest(limit int) []T {
	if limit <= 0 || limit > len(b.items) {
		limit = len(b.items)
	}
	out := make([]T, 0, limit)
	b.Each(func(v T) bool {
		out = append(out, v)
		return len(out) < limit
	})
	return out
}

// Chronological copies every item, oldest first.
func (b *Buffer[T]) Chronological() []T {
	out := make([]T, len(b.items))
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}

func (b *Buffer[T]) Reset() {
	b.items = nil
	b.head = 0
}
