// Package event is an in-memory publish/subscribe bus keyed by payload type.
//
// Publishers define their own payload structs; subscribers register for a
// concrete type with Subscribe and receive only payloads of that type.
// Handlers run synchronously on the publisher's goroutine, in registration
// order, and must not block.
package event

import (
	"reflect"
	"sync"
)

type subscription struct {
	id      uint64
	handler func(interface{})
}

// Bus is a typed in-memory event bus
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[reflect.Type][]subscription
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]subscription),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Subscribe registers fn for payloads of type T. The returned function
// removes the subscription and is safe to call more than once.
func Subscribe[T any](b *Bus, fn func(T)) (unsubscribe func()) {
	key := typeOf[T]()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[key] = append(b.handlers[key], subscription{
		id:      id,
		handler: func(v interface{}) { fn(v.(T)) },
	})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[key]
			for i, s := range subs {
				if s.id == id {
					b.handlers[key] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers payload to every subscriber of its type
func Publish[T any](b *Bus, payload T) {
	if b == nil {
		return
	}

	b.mu.RLock()
	subs := b.handlers[typeOf[T]()]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	// Handlers run outside the lock so they may publish or subscribe.
	for _, s := range snapshot {
		s.handler(payload)
	}
}

// Subscribers returns the number of handlers registered for type T
func Subscribers[T any](b *Bus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[typeOf[T]()])
}
