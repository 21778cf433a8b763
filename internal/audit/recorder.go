package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

// Sink receives durable audit writes.
type Sink interface {
	InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error
}

// Recorder is an append-only record of order state transitions. Recording
// never blocks or fails order progress: entries are queued and written by a
// background worker that retries failed writes, so durability is best-effort
// but eventually consistent.
type Recorder struct {
	sink     Sink
	logger   *slog.Logger
	queue    chan domain.AuditEntry
	attempts int
	backoff  time.Duration

	wg      sync.WaitGroup
	closed  chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

type Option func(*Recorder)

func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan domain.AuditEntry, n)
		}
	}
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Recorder) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

func NewRecorder(sink Sink, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:     sink,
		logger:   logger,
		queue:    make(chan domain.AuditEntry, 1024),
		attempts: 5,
		backoff:  100 * time.Millisecond,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues one transition. It never blocks and never panics: if the
// queue is full or the recorder is closed the entry is dropped, counted, and
// logged.
func (r *Recorder) Record(orderID uuid.UUID, from, to domain.OrderStatus, actor, detail string) {
	entry := domain.AuditEntry{
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
		FromState: from,
		ToState:   to,
		Actor:     actor,
		Detail:    detail,
	}
	select {
	case <-r.closed:
		r.drop(entry, "recorder closed")
		return
	default:
	}
	select {
	case r.queue <- entry:
	default:
		r.drop(entry, "queue full")
	}
}

func (r *Recorder) drop(entry domain.AuditEntry, reason string) {
	r.mu.Lock()
	r.dropped++
	dropped := r.dropped
	r.mu.Unlock()
	r.logger.Error("audit entry dropped",
		"reason", reason,
		"order_id", entry.OrderID.String(),
		"to_state", string(entry.ToState),
		"dropped_total", dropped,
	)
}

// Dropped returns the count of entries lost to queue overflow.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting entries and drains what is already queued. The queue
// channel is never closed so a straggling Record degrades to a counted drop
// instead of a send on a closed channel.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.closed)
	})
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.closed:
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry domain.AuditEntry) {
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.sink.InsertAuditEntry(ctx, entry)
		cancel()
		if err == nil {
			return
		}
		if attempt == r.attempts {
			r.logger.Error("audit write abandoned",
				"order_id", entry.OrderID.String(),
				"to_state", string(entry.ToState),
				"attempts", attempt,
				"error", err,
			)
			return
		}
		r.logger.Warn("audit write failed, retrying",
			"order_id", entry.OrderID.String(),
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(delay)
		delay *= 2
	}
}
