package events

import (
	"sync"
	"testing"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []OrderTransitionEvent
}

func (s *recordingSubscriber) Notify(event OrderTransitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func transitionEvent(t *testing.T) OrderTransitionEvent {
	t.Helper()
	envelope, err := NewEnvelope("orders.filled", 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return OrderTransitionEvent{
		Envelope:  envelope,
		OrderID:   "o-1",
		FromState: domain.StatusSubmitted,
		ToState:   domain.StatusFilled,
	}
}

func TestBusFansOut(t *testing.T) {
	bus := NewBus(nil)
	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	bus.Subscribe(first)
	bus.Subscribe(second)
	bus.Seal()

	bus.Publish(transitionEvent(t))

	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("expected both subscribers notified, got %d and %d", first.count(), second.count())
	}
}

func TestBusIgnoresSubscribeAfterSeal(t *testing.T) {
	bus := NewBus(nil)
	bus.Seal()

	late := &recordingSubscriber{}
	bus.Subscribe(late)
	bus.Publish(transitionEvent(t))

	if late.count() != 0 {
		t.Fatalf("late subscriber must not receive events")
	}
}

func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	sub := NewChannelSubscriber(1, nil)
	event := transitionEvent(t)

	sub.Notify(event)
	sub.Notify(event) // does not block

	if len(sub.C) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(sub.C))
	}
}

func TestNewEnvelopeValidates(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected error for missing event type")
	}
	if _, err := NewEnvelope("orders.filled", 0, ""); err == nil {
		t.Fatalf("expected error for non-positive version")
	}
	envelope, err := NewEnvelope("orders.filled", 2, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if envelope.EventID == "" || envelope.Timestamp.IsZero() {
		t.Fatalf("expected populated envelope, got %+v", envelope)
	}
}

func TestDeterministicEventID(t *testing.T) {
	a := DeterministicEventID("order-1", "filled")
	b := DeterministicEventID("order-1", "filled")
	c := DeterministicEventID("order-1", "rejected")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct ids for distinct parts")
	}
}
