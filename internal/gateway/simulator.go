package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulator is a deterministic in-process venue for development and tests.
// Orders fill fully at the limit price when present, else at the caller's
// reference price. Resubmitting an order id returns the recorded outcome.
type Simulator struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*ExecutionReport

	// CommissionBps applies to executed notional; zero means no commission.
	CommissionBps int64
	// RejectSymbols forces venue rejections for specific symbols.
	RejectSymbols map[string]string
}

var _ Gateway = (*Simulator)(nil)

func NewSimulator() *Simulator {
	return &Simulator{
		orders:        make(map[uuid.UUID]*ExecutionReport),
		RejectSymbols: make(map[string]string),
	}
}

func (s *Simulator) Submit(ctx context.Context, sub Submission) (*ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[sub.OrderID]; ok {
		copied := *existing
		return &copied, nil
	}

	if reason, rejected := s.RejectSymbols[sub.Symbol]; rejected {
		report := &ExecutionReport{
			OrderID:     sub.OrderID,
			ExecutionID: DeterministicExecutionID(sub.OrderID, "rejected"),
			Status:      ReportRejected,
			Reason:      reason,
		}
		s.orders[sub.OrderID] = report
		copied := *report
		return &copied, nil
	}

	price := sub.ReferencePrice
	if sub.LimitPrice != nil {
		price = *sub.LimitPrice
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("simulator requires a positive price for %s", sub.Symbol)
	}

	notional := decimal.NewFromInt(sub.Quantity).Mul(price)
	commission := decimal.Zero
	if s.CommissionBps > 0 {
		commission = notional.Mul(decimal.NewFromInt(s.CommissionBps)).Div(decimal.NewFromInt(10_000))
	}

	report := &ExecutionReport{
		OrderID:          sub.OrderID,
		ExecutionID:      DeterministicExecutionID(sub.OrderID, "fill"),
		Status:           ReportFilled,
		ExecutedQuantity: sub.Quantity,
		ExecutionPrice:   price,
		Commission:       commission,
	}
	s.orders[sub.OrderID] = report
	copied := *report
	return &copied, nil
}

func (s *Simulator) Cancel(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.orders[orderID]
	if !ok {
		// Not yet submitted: record the cancel so a late submit resolves it.
		s.orders[orderID] = &ExecutionReport{
			OrderID:     orderID,
			ExecutionID: DeterministicExecutionID(orderID, "cancelled"),
			Status:      ReportCancelled,
		}
		return nil
	}
	if report.Status == ReportFilled || report.Status == ReportPartiallyFilled {
		return fmt.Errorf("order %s already executed", orderID)
	}
	report.Status = ReportCancelled
	return nil
}

func (s *Simulator) Status(_ context.Context, orderID uuid.UUID) (*ExecutionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.orders[orderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	copied := *report
	return &copied, nil
}
