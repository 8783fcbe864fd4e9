package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process EventBus. Handlers run synchronously on the
// publisher's goroutine; they are expected to be fast.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
	closed   bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, event PulseEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, h := range b.handlers[subject] {
		h(subject, event)
	}
}

func (b *MemoryBus) Subscribe(subject string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[subject] == nil {
		b.handlers[subject] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[subject][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[subject], id)
	}, nil
}

func (b *MemoryBus) IsConnected() bool { return true }

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string]map[int]Handler)
	return nil
}
