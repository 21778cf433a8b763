// Package gateway abstracts the external execution venue. The core treats
// the venue as at-least-once: a submission may succeed even when the response
// is lost, so every submission carries the order id as its idempotency key
// and a retried submission with the same key never creates a duplicate
// execution.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

var (
	// ErrUnknownOrder means the venue has no record of the idempotency key.
	ErrUnknownOrder = errors.New("order unknown to venue")
	// ErrRejected carries an explicit venue rejection.
	ErrRejected = errors.New("venue rejected order")
)

type ReportStatus string

const (
	ReportPending         ReportStatus = "pending"
	ReportFilled          ReportStatus = "filled"
	ReportPartiallyFilled ReportStatus = "partially_filled"
	ReportRejected        ReportStatus = "rejected"
	ReportCancelled       ReportStatus = "cancelled"
)

// Submission is one order sent to the venue. OrderID doubles as the
// idempotency key. ReferencePrice is the caller's market-price estimate,
// used by venues that simulate execution.
type Submission struct {
	OrderID        uuid.UUID
	AccountID      uuid.UUID
	Symbol         string
	Side           domain.Side
	Type           domain.OrderType
	Quantity       int64
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	TimeInForce    domain.TimeInForce
	ReferencePrice decimal.Decimal
}

// ExecutionReport is the venue's account of an order's outcome.
type ExecutionReport struct {
	OrderID          uuid.UUID
	ExecutionID      uuid.UUID
	Status           ReportStatus
	ExecutedQuantity int64
	ExecutionPrice   decimal.Decimal
	Commission       decimal.Decimal
	Reason           string
}

// Gateway is the execution venue client.
type Gateway interface {
	// Submit sends the order. May be slow or fail transiently; callers
	// bound it with a context deadline.
	Submit(ctx context.Context, sub Submission) (*ExecutionReport, error)
	// Cancel requests venue-side cancellation of an in-flight order.
	Cancel(ctx context.Context, orderID uuid.UUID) error
	// Status resolves the current venue state for the idempotency key.
	Status(ctx context.Context, orderID uuid.UUID) (*ExecutionReport, error)
}

const (
	backoffBase = 250 * time.Millisecond
	backoffMax  = 30 * time.Second
)

// Backoff returns the bounded exponential delay before the given retry.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return backoffBase
	}
	if attempt > 20 {
		return backoffMax
	}
	d := backoffBase * time.Duration(1<<attempt)
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// DeterministicExecutionID derives a stable execution id from the order id
// and venue fill state, so a re-fetched report deduplicates downstream.
func DeterministicExecutionID(orderID uuid.UUID, parts ...string) uuid.UUID {
	payload := orderID.String()
	for _, p := range parts {
		payload += "|" + p
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(payload))
}
