// Package events defines the in-process event contracts the lifecycle,
// sweep, reassignment and scoring components use to talk to each other
// without importing one another.
package events

import (
	"context"
	"time"
)

// Event is implemented by every domain event.
type Event interface {
	// EventName identifies the event type; subscriptions key on it.
	EventName() string
	// OccurredAt reports when the event happened.
	OccurredAt() time.Time
}

// BaseEvent carries the timestamp shared by all events.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt reports when the event happened.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps a new event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events of one type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls the underlying function.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes domain events to subscribed handlers.
type Bus interface {
	// Publish fans the event out to its handlers asynchronously; the
	// publisher never observes handler failures.
	Publish(ctx context.Context, event Event)

	// PublishSync runs the handlers in subscription order before returning
	// and surfaces the first handler error. Used where the publisher needs
	// the fan-out finished inside its own execution window, such as the
	// post-escalation breach hooks.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler under the name the event's EventName
	// returns.
	Subscribe(eventName string, handler Handler)
}
