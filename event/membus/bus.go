// Package membus provides an in-process event.Bus.
package membus

import (
	"context"
	"errors"
	"sync"

	"github.com/xraph/sparkcloud/event"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("membus: bus is closed")

// compile-time interface check.
var _ event.Bus = (*Bus)(nil)

// Bus fans every published event out to all current subscribers, in the
// publishing goroutine. Handlers that need to do slow work must hand it off.
type Bus struct {
	mu       sync.RWMutex
	handlers map[uint64]event.Handler
	next     uint64
	closed   bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[uint64]event.Handler)}
}

// Publish delivers evt to a snapshot of the subscribers.
func (b *Bus) Publish(ctx context.Context, evt *event.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	snapshot := make([]event.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(ctx, evt)
	}
	return nil
}

// Subscribe registers h until the returned cancel function is called.
func (b *Bus) Subscribe(_ context.Context, h event.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	key := b.next
	b.next++
	b.handlers[key] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, key)
			b.mu.Unlock()
		})
	}, nil
}

// Close drops all subscribers and rejects further use.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[uint64]event.Handler)
	return nil
}
