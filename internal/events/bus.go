package events

import (
	"log/slog"
	"sync"
)

// Subscriber receives order transition events. Delivery is best-effort;
// a slow subscriber loses events rather than stalling the pipeline.
type Subscriber interface {
	Notify(event OrderTransitionEvent)
}

// Bus fans transition events out to subscribers registered at startup.
// There is no dynamic registry; the coordinator owns the bus and subscribers
// are attached before any order is processed.
type Bus struct {
	mu     sync.RWMutex
	subs   []Subscriber
	logger *slog.Logger
	sealed bool
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe attaches a subscriber. Calls after Seal are ignored and logged.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		b.logger.Error("subscribe after bus sealed, ignored")
		return
	}
	b.subs = append(b.subs, sub)
}

// Seal freezes the subscriber set.
func (b *Bus) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
}

func (b *Bus) Publish(event OrderTransitionEvent) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.Notify(event)
	}
}

// ChannelSubscriber bridges the bus onto a channel with non-blocking sends.
type ChannelSubscriber struct {
	C      chan OrderTransitionEvent
	logger *slog.Logger
}

func NewChannelSubscriber(size int, logger *slog.Logger) *ChannelSubscriber {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelSubscriber{C: make(chan OrderTransitionEvent, size), logger: logger}
}

func (s *ChannelSubscriber) Notify(event OrderTransitionEvent) {
	select {
	case s.C <- event:
	default:
		s.logger.Warn("event subscriber channel full, event dropped",
			"event_type", event.EventType,
			"order_id", event.OrderID,
		)
	}
}
