// Package bus provides the in-process pub/sub bus the scene publishes its
// lifecycle events on: node and component additions and removals, tag
// changes, update phases and async loading progress.
package bus

import "time"

// EventBus is a thread-safe in-process pub/sub bus.
//
// Handlers subscribe by Event.Type(), optionally within a named topic; the
// default topic is "". Delivery is synchronous in the publisher's
// goroutine, so a handler observes the scene exactly as it was at publish
// time. Handler errors are joined and returned from Publish. Handlers must
// be quick or offload heavy work.
type EventBus interface {
	// Publish delivers the event to all subscribers of its type in the
	// default topic.
	Publish(event Event) error
	// PublishToTopic delivers within one topic only.
	PublishToTopic(topic string, event Event) error
	// PublishWithFilters drops the event silently when any filter rejects
	// it.
	PublishWithFilters(event Event, filters ...EventFilter) error
	// PublishAsync delivers from a separate goroutine. The returned channel
	// receives the joined handler error, then closes.
	PublishAsync(event Event) <-chan error
	// PublishBatch publishes events in order, aggregating errors.
	PublishBatch(events ...Event) error

	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels a subscription. Safe to call with nil.
	Unsubscribe(sub Subscription) error

	// Metrics returns a snapshot of the delivery counters.
	Metrics() Metrics
}

// Event is an immutable message. Consumers must not mutate Data.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked once per delivered event.
	EventHandler func(event Event) error
	// EventFilter decides whether an event is delivered at all.
	EventFilter func(event Event) bool
)

// Subscription is a registered handler. Cancel or EventBus.Unsubscribe
// stops delivery; both are idempotent.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}

// Metrics is a snapshot of the bus counters.
type Metrics struct {
	Published           uint64
	DeliveredHandlers   uint64
	HandlerErrors       uint64
	DroppedByFilters    uint64
	ActiveSubscriptions uint64
}
