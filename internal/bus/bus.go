package bus

import "sync"

// Bus provides fan-out pub/sub semantics. Each Subscribe call gets its own
// channel that receives every future publication. Past messages are not
// replayed. The implementation is safe for concurrent publishers and
// subscribers.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers []chan T
	closed      bool
}

// New creates a ready-to-use Bus.
func New[T any]() *Bus[T] { return &Bus[T]{} }

// Subscribe returns a read-only channel that will receive all future
// publications. Subscribing to a closed bus yields a closed channel.
func (b *Bus[T]) Subscribe() <-chan T {
	ch := make(chan T, 1) // small buffer avoids blocking
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers msg to all subscribers without blocking. A subscriber
// whose buffer is full gets the newest message: the stale one is dropped.
func (b *Bus[T]) Publish(msg T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
			continue
		default:
		}
		// Only the newest value matters to consumers; replace the queued one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close closes every subscriber channel. Further publications are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
