// Package observable provides a latest-value broadcast cell.
package observable

import "sync"

// Cell holds a single value and broadcasts every change to its subscribers.
// New subscribers immediately receive the current value. Each subscriber
// channel buffers one value; a subscriber that falls behind skips straight to
// the newest value rather than blocking the publisher.
type Cell[T any] struct {
	mu     sync.RWMutex
	value  T
	subs   []chan T
	closed bool
}

// NewCell creates a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set stores v and publishes it to all subscribers. Set never blocks on a
// slow subscriber. It is a no-op after Close.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.value = v
	for _, ch := range c.subs {
		offerLatest(ch, v)
	}
}

// Subscribe returns a channel that receives the current value immediately and
// every subsequent value. The channel is closed by Unsubscribe or Close.
func (c *Cell[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan T, 1)
	if c.closed {
		close(ch)
		return ch
	}

	ch <- c.value
	c.subs = append(c.subs, ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// It is safe to call with a channel that was never subscribed or already unsubscribed.
func (c *Cell[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subs {
		if sub == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes all subscriber channels. Subsequent Set calls are no-ops and
// Subscribe returns closed channels. Close is safe to call multiple times.
func (c *Cell[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

// offerLatest delivers v to ch, evicting a stale undelivered value if the
// buffer is full. Callers hold the write lock, so the only concurrent party is
// the receiver, which can only make room.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- v:
	default:
	}
}
