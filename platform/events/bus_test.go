package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type testEvent struct {
	BaseEvent
}

func (testEvent) EventName() string { return "test.event" }

func TestPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var calls int32
	bus.Subscribe("test.event", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	bus.Subscribe("test.event", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRunsHandlersAsync(t *testing.T) {
	bus := NewInMemoryBus(nil)
	var calls int32
	bus.Subscribe("test.event", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	bus.Subscribe("other.event", HandlerFunc(func(ctx context.Context, e Event) error {
		t.Errorf("handler for other event must not run")
		return nil
	}))

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestNewBaseEventAtNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, loc)

	e := NewBaseEventAt(at)
	if !e.OccurredAt().Equal(at) || e.OccurredAt().Location() != time.UTC {
		t.Fatalf("unexpected timestamp %v", e.OccurredAt())
	}
	if e.EventID == uuid.Nil {
		t.Fatalf("expected event id")
	}
	if other := NewBaseEventAt(at); other.EventID == e.EventID {
		t.Fatalf("expected distinct event ids")
	}
}
