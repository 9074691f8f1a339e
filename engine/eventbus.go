package engine

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SubscriberID identifies a subscription for Unsubscribe.
type SubscriberID uint64

// SubscriberFunc receives emitted events.
type SubscriberFunc func(Event)

type subscriber struct {
	id    SubscriberID
	fn    SubscriberFunc
	types []EventType // empty means every type
}

func (s subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// EventBus delivers events synchronously, in subscription order, on the
// emitting goroutine. The subscriber list is copy-on-write so Emit never
// holds the lock while calling out. A panicking subscriber is logged and
// the remaining subscribers still run.
type EventBus struct {
	log *zap.Logger

	mu     sync.Mutex
	subs   []subscriber
	nextID SubscriberID
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{log: logger}
}

// Subscribe registers fn for every event type.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.SubscribeTypes(fn)
}

// SubscribeTypes registers fn for the listed types only.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	next := make([]subscriber, len(eb.subs), len(eb.subs)+1)
	copy(next, eb.subs)
	eb.subs = append(next, subscriber{id: eb.nextID, fn: fn, types: slices.Clone(types)})
	return eb.nextID
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subs = slices.DeleteFunc(slices.Clone(eb.subs), func(s subscriber) bool { return s.id == id })
}

// Emit stamps evt if needed and hands it to every interested subscriber.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.Lock()
	subs := eb.subs
	eb.mu.Unlock()

	for _, s := range subs {
		if s.wants(evt.Type) {
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error("event subscriber panicked",
				zap.Uint64("subscriber", uint64(s.id)),
				zap.Stringer("event", evt.Type),
				zap.Any("panic", r))
		}
	}()
	s.fn(evt)
}
