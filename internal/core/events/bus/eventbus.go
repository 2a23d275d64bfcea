// Package bus implements the in-process notification channel the engine
// publishes change and presence events on.
//
// Delivery is synchronous and type-routed: handlers subscribe by
// Event.Type() string and run in the publisher's goroutine. A handler that
// panics is isolated; the panic is logged and the remaining handlers still
// run. One misbehaving observer must never break the engine or its peers.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coedit/coedit/internal/core/observability/log"
)

// Event is an immutable message transported by the bus. Handlers must treat
// the payload as read-only.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler is a user callback invoked per delivered event.
type EventHandler func(event Event)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel()
}

type simpleEvent struct {
	typeStr string
	source  string
	ts      time.Time
	data    any
}

func (e simpleEvent) Type() string         { return e.typeStr }
func (e simpleEvent) Source() string       { return e.source }
func (e simpleEvent) Timestamp() time.Time { return e.ts }
func (e simpleEvent) Data() any            { return e.data }

// NewEvent creates a simple Event implementation.
func NewEvent(typ, src string, data any) Event {
	return simpleEvent{typeStr: typ, source: src, ts: time.Now(), data: data}
}

type subscription struct {
	id        string
	eventType string
	handler   EventHandler
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Bus is a thread-safe in-memory event bus.
type Bus struct {
	mu sync.RWMutex
	// handlers: eventType -> subID -> subscription
	handlers map[string]map[string]*subscription
	log      log.Log
}

// New creates a new Bus. The logger receives isolated handler failures.
func New(logger log.Log) *Bus {
	return &Bus{
		handlers: make(map[string]map[string]*subscription),
		log:      logger,
	}
}

// Subscribe registers a handler for a specific event type and returns a
// Subscription handle that can be used to cancel later.
func (b *Bus) Subscribe(eventType string, handler EventHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, eventType: eventType, handler: handler}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if mm, ok := b.handlers[eventType]; ok {
			delete(mm, id)
		}
	}
	b.handlers[eventType][id] = s
	return s
}

// Publish delivers the event synchronously to all active subscribers of
// event.Type(). Handler panics are recovered and logged, never propagated.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.handlers[event.Type()]))
	for _, s := range b.handlers[event.Type()] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, event)
	}
}

func (b *Bus) deliver(s *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Warn("event handler panicked",
				log.String("event_type", event.Type()),
				log.String("subscription", s.id),
				log.Any("panic", r),
			)
		}
	}()
	s.handler(event)
}

// SubscriberCount reports the number of active handlers for an event type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
