package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"salesflow_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
}

func (testEvent) EventName() string { return "test.event" }

func TestPublishSyncRunsHandlersInOrder(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))

	var order []string
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		order = append(order, "first")
		return nil
	}))
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		order = append(order, "second")
		return nil
	}))

	if err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()}); err != nil {
		t.Fatalf("PublishSync failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected handlers in subscription order, got %v", order)
	}
}

func TestPublishSyncStopsOnFirstError(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))

	want := errors.New("handler broke")
	ran := false
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		return want
	}))
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		ran = true
		return nil
	}))

	if err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()}); !errors.Is(err, want) {
		t.Fatalf("expected the handler error, got %v", err)
	}
	if ran {
		t.Fatal("expected dispatch to stop at the first failing handler")
	}
}

func TestPublishDetachesFromPublisherCancellation(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))

	handlerCtxErr := make(chan error, 1)
	bus.Subscribe("test.event", HandlerFunc(func(ctx context.Context, _ Event) error {
		handlerCtxErr <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, testEvent{BaseEvent: NewBaseEvent()})

	select {
	case err := <-handlerCtxErr:
		if err != nil {
			t.Fatalf("expected handler context to outlive the publisher, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}
