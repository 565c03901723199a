package core

import (
	"slices"
	"sync"
	"sync/atomic"
)

// StatusChange is published whenever the processed tunnel status changes.
type StatusChange struct {
	Old ConnectionStatus
	New ConnectionStatus
	Raw RawStatus // raw status that caused the change
}

// DomainFilterChanged reports an edit of the domain filter list.
// Domain is nil when the change is not about a single domain.
type DomainFilterChanged struct {
	Domain *string
}

// Handler is a callback for bus subscribers.
type Handler[T any] func(T)

// Bus provides typed pub/sub between system components.
// Channel subscribers never block the publisher: a full channel drops the
// event with a warning.
type Bus[T any] struct {
	name string

	mu       sync.RWMutex
	subs     []*Subscription[T]
	handlers []*handlerEntry[T]
}

// Subscription is a channel-based subscription to a Bus.
type Subscription[T any] struct {
	name     string
	events   chan T
	canceled atomic.Bool
}

type handlerEntry[T any] struct {
	name     string
	fn       Handler[T]
	canceled atomic.Bool
}

// NewBus creates a ready-to-use bus. The name only shows up in logs.
func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{name: name}
}

// Subscribe registers a channel subscriber with the given buffer size.
func (b *Bus[T]) Subscribe(subscriber string, size int) *Subscription[T] {
	s := &Subscription[T]{
		name:   subscriber,
		events: make(chan T, size),
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Handle registers a callback that runs synchronously in the publisher's
// goroutine. The returned func removes it.
func (b *Bus[T]) Handle(subscriber string, fn Handler[T]) (cancel func()) {
	h := &handlerEntry[T]{name: subscriber, fn: fn}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
	return func() {
		h.canceled.Store(true)
		b.clean()
	}
}

// Publish fires an event to all subscribers.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	subs := b.subs
	handlers := b.handlers
	b.mu.RUnlock()

	var anyCanceled bool
	for _, s := range subs {
		if s.canceled.Load() {
			anyCanceled = true
			continue
		}
		select {
		case s.events <- e:
		default:
			Log.Warnf("Core", "Event bus %s: subscriber %s is full, event dropped", b.name, s.name)
		}
	}

	for _, h := range handlers {
		if h.canceled.Load() {
			continue
		}
		h.fn(e)
	}

	if anyCanceled {
		b.clean()
	}
}

// Len returns the number of live subscribers and handlers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if !s.canceled.Load() {
			n++
		}
	}
	for _, h := range b.handlers {
		if !h.canceled.Load() {
			n++
		}
	}
	return n
}

func (b *Bus[T]) clean() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(slices.Clone(b.subs), func(s *Subscription[T]) bool {
		return s.canceled.Load()
	})
	b.handlers = slices.DeleteFunc(slices.Clone(b.handlers), func(h *handlerEntry[T]) bool {
		return h.canceled.Load()
	})
}

// Events returns the receive channel. It is never closed.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

// Cancel stops delivery to this subscription.
func (s *Subscription[T]) Cancel() {
	s.canceled.Store(true)
}

// Done reports whether the subscription was canceled.
func (s *Subscription[T]) Done() bool {
	return s.canceled.Load()
}
