package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscriber channel capacity used by New and NewTyped.
const DefaultBuffer = 8

// TypedBus is a type-safe publish/subscribe bus for events of type T.
type TypedBus[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	closed  bool
	buffer  int
	dropped atomic.Uint64
}

// NewTyped creates a new TypedBus.
func NewTyped[T any]() *TypedBus[T] { return NewTypedWithBuffer[T](DefaultBuffer) }

// NewTypedWithBuffer creates a TypedBus whose subscribers buffer up to size
// events. Sizes below one fall back to DefaultBuffer.
func NewTypedWithBuffer[T any](size int) *TypedBus[T] {
	if size < 1 {
		size = DefaultBuffer
	}
	return &TypedBus[T]{buffer: size}
}

// Publish sends the event to all subscribers. Delivery is non-blocking: an
// event is dropped for a subscriber whose buffer is full.
func (b *TypedBus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of deliveries skipped because of full buffers.
func (b *TypedBus[T]) Dropped() uint64 { return b.dropped.Load() }

// Subscribe registers a subscriber and returns its channel.
func (b *TypedBus[T]) Subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := b.buffer
	if size < 1 {
		size = DefaultBuffer
	}
	ch := make(chan T, size)
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *TypedBus[T]) Unsubscribe(sub <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes the bus and all subscriber channels.
func (b *TypedBus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
