package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

type fakeSink struct {
	mu       sync.Mutex
	entries  []domain.AuditEntry
	failures int
	blocked  chan struct{}
}

func (f *fakeSink) InsertAuditEntry(_ context.Context, entry domain.AuditEntry) error {
	if f.blocked != nil {
		<-f.blocked
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("write failed")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeSink) all() []domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

func TestRecordWritesEntry(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, nil)

	orderID := uuid.New()
	r.Record(orderID, domain.StatusReceived, domain.StatusValidated, "coordinator", "checks passed")
	r.Close()

	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.OrderID != orderID || e.FromState != domain.StatusReceived || e.ToState != domain.StatusValidated {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Fatalf("expected timestamp set")
	}
}

func TestRecordRetriesFailedWrites(t *testing.T) {
	sink := &fakeSink{failures: 2}
	r := NewRecorder(sink, nil, WithRetry(5, time.Millisecond))

	r.Record(uuid.New(), domain.StatusSubmitted, domain.StatusFilled, "coordinator", "")
	r.Close()

	if len(sink.all()) != 1 {
		t.Fatalf("expected entry written after retries, got %d", len(sink.all()))
	}
}

func TestRecordNeverBlocksWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	sink := &fakeSink{blocked: blocked}
	r := NewRecorder(sink, nil, WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			r.Record(uuid.New(), domain.StatusReceived, domain.StatusValidated, "coordinator", "")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Record blocked on a full queue")
	}

	if r.Dropped() == 0 {
		t.Fatalf("expected overflow entries to be counted as dropped")
	}

	close(blocked)
	r.Close()
}

func TestRecordAfterCloseDropsEntry(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, nil)
	r.Close()

	// A late transition during shutdown must degrade to a counted drop,
	// not a panic.
	r.Record(uuid.New(), domain.StatusSubmitted, domain.StatusFilled, "coordinator", "")

	if got := len(sink.all()); got != 0 {
		t.Fatalf("expected no entries written after close, got %d", got)
	}
	if r.Dropped() != 1 {
		t.Fatalf("expected late entry counted as dropped, got %d", r.Dropped())
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, nil)

	for i := 0; i < 50; i++ {
		r.Record(uuid.New(), domain.StatusReceived, domain.StatusValidated, "coordinator", "")
	}
	r.Close()

	if got := len(sink.all()); got != 50 {
		t.Fatalf("expected all 50 entries written on close, got %d", got)
	}
}
