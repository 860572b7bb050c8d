package router

import (
	"sync"

	"github.com/rickgao/price-relay/internal/model"
)

// GrowableBuffer is a thread-safe FIFO that doubles its capacity at 70%
// full, up to a maximum. Once at the maximum a full buffer evicts its oldest
// item, so Send never blocks the producer.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	count  int
	max    int
	closed bool

	// Stats
	totalReceived int64
	totalSent     int64
	dropped       int64
	resizeCount   int
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int   `json:"count"`
	Capacity      int   `json:"capacity"`
	TotalReceived int64 `json:"total_received"`
	TotalSent     int64 `json:"total_sent"`
	Dropped       int64 `json:"dropped"`
	ResizeCount   int   `json:"resize_count"`
}

// NewGrowableBuffer creates a buffer with the given initial and maximum
// capacity. A maximum below the initial capacity pins it to the initial one.
func NewGrowableBuffer[T any](initial, max int) *GrowableBuffer[T] {
	if initial < 1 {
		initial = 1
	}
	if max < initial {
		max = initial
	}
	b := &GrowableBuffer[T]{
		buf: make([]T, initial),
		max: max,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (len(b.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && len(b.buf) < b.max {
		b.grow()
	}

	if b.count == len(b.buf) {
		b.pop()
		b.totalSent--
		b.dropped++
	}

	b.buf[(b.head+b.count)%len(b.buf)] = item
	b.count++
	b.totalReceived++

	b.cond.Signal()
	return true
}

// Receive blocks until an item is available or the buffer is closed and
// empty, in which case ok is false.
func (b *GrowableBuffer[T]) Receive() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return item, false
	}
	return b.pop(), true
}

// DrainTo removes up to max items (all when max <= 0) without blocking.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// Close wakes all receivers. Items already queued can still be received.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      len(b.buf),
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		Dropped:       b.dropped,
		ResizeCount:   b.resizeCount,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	var zero T
	item := b.buf[b.head]
	b.buf[b.head] = zero
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	b.totalSent++
	return item
}

// grow doubles the capacity, bounded by max. Must be called with lock held.
func (b *GrowableBuffer[T]) grow() {
	size := len(b.buf) * 2
	if size > b.max {
		size = b.max
	}
	next := make([]T, size)

	// Unwrap [head, end) + [0, tail) into the front of next.
	n := copy(next, b.buf[b.head:min(b.head+b.count, len(b.buf))])
	if n < b.count {
		copy(next[n:], b.buf[:b.count-n])
	}

	b.buf = next
	b.head = 0
	b.resizeCount++
}

// UpdateBuffer queues price updates between the router and a slower consumer.
type UpdateBuffer = GrowableBuffer[model.PriceUpdate]

// NewUpdateBuffer creates an UpdateBuffer sized from cfg.
func NewUpdateBuffer(cfg Config) *UpdateBuffer {
	return NewGrowableBuffer[model.PriceUpdate](cfg.SinkBufferSize, cfg.SinkBufferMax)
}

// BufferSink publishes into b.
func BufferSink(b *UpdateBuffer) Sink {
	return SinkFunc(func(u model.PriceUpdate) {
		b.Send(u)
	})
}
