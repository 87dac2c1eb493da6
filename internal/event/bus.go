// Package event delivers policy notifications to compositor code.
//
// Delivery is synchronous and ordered: Publish calls every subscriber in
// subscription order before returning, on the caller's goroutine.
package event

import (
	"sync"
)

type subscription[T any] struct {
	id     uint64
	fn     func(T)
	filter func(T) bool
}

// Bus is a typed publish/subscribe hub.
type Bus[T any] struct {
	mu          sync.Mutex
	subscribers []subscription[T]
	nextSubID   uint64
	closed      bool
}

// NewBus returns an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{}
}

// Subscribe registers fn and returns a function removing it again.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	return b.SubscribeFiltered(nil, fn)
}

// SubscribeFiltered registers fn for events accepted by filter. A nil filter
// accepts everything.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool, fn func(T)) func() {
	if b == nil || fn == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers = append(b.subscribers, subscription[T]{id: id, fn: fn, filter: filter})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub.id == id {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers every event, in order, to the subscribers registered when
// Publish was called. Subscribers may subscribe or unsubscribe from inside a
// handler; the change applies to the next Publish.
func (b *Bus[T]) Publish(events ...T) {
	if b == nil || len(events) == 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subscribers
	b.mu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			if sub.filter != nil && !sub.filter(ev) {
				continue
			}
			sub.fn(ev)
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close drops every subscriber; later publishes are discarded.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
}
