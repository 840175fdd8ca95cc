package eventbus

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is an immutable notification delivered to topic subscribers.
// Handlers must not mutate the payload; it is shared across subscribers.
type Event struct {
	Topic   string
	Source  string
	Payload any
}

// Handler receives events for a subscribed topic. A non-nil error is logged
// and isolated; it never reaches the publisher or other subscribers.
type Handler func(Event) error

// Subscription is the handle returned by Subscribe. It identifies one
// (topic, handler, owner) registration.
type Subscription struct {
	id    string
	topic string
	owner string

	handler Handler
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// Owner returns the identity the subscription was registered under.
func (s *Subscription) Owner() string { return s.owner }

// Stats holds cumulative bus counters.
type Stats struct {
	EventsPublished   uint64
	HandlersInvoked   uint64
	HandlerErrors     uint64
	HandlerPanics     uint64
	ActiveSubscribers int
}

// Bus routes published events to topic subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*Subscription

	log *logrus.Logger

	eventsPublished atomic.Uint64
	handlersInvoked atomic.Uint64
	handlerErrors   atomic.Uint64
	handlerPanics   atomic.Uint64
}

// New creates an empty bus.
func New(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.New()
	}
	return &Bus{
		subscribers: make(map[string][]*Subscription),
		log:         log,
	}
}

// Subscribe registers handler under topic on behalf of owner and returns the
// subscription handle. Handlers for one topic are invoked in the order they
// were subscribed.
func (b *Bus) Subscribe(topic, owner string, handler Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		owner:   owner,
		handler: handler,
	}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"topic": topic,
		"owner": owner,
	}).Debug("Subscribed to topic")

	return sub
}

// Unsubscribe removes a single subscription. Unsubscribing a handle twice,
// or a nil handle, is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes every subscription registered under owner across
// all topics. Idempotent.
func (b *Bus) UnsubscribeAll(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.owner != owner {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = kept
		}
	}
}

// Publish delivers an event to every current subscriber of topic, in
// subscription order. Handler errors and panics are logged and do not stop
// delivery to remaining subscribers. Publishing to a topic with no
// subscribers does nothing.
func (b *Bus) Publish(topic, source string, payload any) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	b.eventsPublished.Add(1)
	if len(subs) == 0 {
		return
	}

	event := Event{Topic: topic, Source: source, Payload: payload}
	for _, sub := range subs {
		b.deliver(event, sub)
	}
}

// deliver invokes a single handler with panic isolation.
func (b *Bus) deliver(event Event, sub *Subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.log.WithFields(logrus.Fields{
				"topic":  event.Topic,
				"source": event.Source,
				"owner":  sub.owner,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Event handler panicked")
		}
	}()

	b.handlersInvoked.Add(1)
	if err := sub.handler(event); err != nil {
		b.handlerErrors.Add(1)
		b.log.WithError(err).WithFields(logrus.Fields{
			"topic":  event.Topic,
			"source": event.Source,
			"owner":  sub.owner,
		}).Error("Event handler failed")
	}
}

// SubscriberCount returns the number of current subscriptions for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Stats returns cumulative counters for observability.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	active := 0
	for _, subs := range b.subscribers {
		active += len(subs)
	}
	b.mu.RUnlock()

	return Stats{
		EventsPublished:   b.eventsPublished.Load(),
		HandlersInvoked:   b.handlersInvoked.Load(),
		HandlerErrors:     b.handlerErrors.Load(),
		HandlerPanics:     b.handlerPanics.Load(),
		ActiveSubscribers: active,
	}
}
