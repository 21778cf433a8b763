package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

func submission(symbol string, qty int64, limit string) Submission {
	sub := Submission{
		OrderID:        uuid.New(),
		AccountID:      uuid.New(),
		Symbol:         symbol,
		Side:           domain.SideBuy,
		Type:           domain.OrderTypeMarket,
		Quantity:       qty,
		TimeInForce:    domain.TIFDay,
		ReferencePrice: decimal.NewFromInt(100),
	}
	if limit != "" {
		price := decimal.RequireFromString(limit)
		sub.LimitPrice = &price
		sub.Type = domain.OrderTypeLimit
	}
	return sub
}

func TestSimulatorFillsAtLimitPrice(t *testing.T) {
	s := NewSimulator()
	report, err := s.Submit(context.Background(), submission("AAPL", 10, "150"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if report.Status != ReportFilled {
		t.Fatalf("expected filled, got %s", report.Status)
	}
	if report.ExecutedQuantity != 10 {
		t.Fatalf("expected full fill, got %d", report.ExecutedQuantity)
	}
	if !report.ExecutionPrice.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected fill at limit 150, got %s", report.ExecutionPrice)
	}
}

func TestSimulatorFillsAtReferencePrice(t *testing.T) {
	s := NewSimulator()
	report, err := s.Submit(context.Background(), submission("AAPL", 10, ""))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !report.ExecutionPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected fill at reference 100, got %s", report.ExecutionPrice)
	}
}

func TestSimulatorIdempotentResubmit(t *testing.T) {
	s := NewSimulator()
	sub := submission("AAPL", 10, "150")

	first, err := s.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	second, err := s.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if first.ExecutionID != second.ExecutionID {
		t.Fatalf("resubmission created a new execution: %s vs %s", first.ExecutionID, second.ExecutionID)
	}
}

func TestSimulatorRejectsConfiguredSymbols(t *testing.T) {
	s := NewSimulator()
	s.RejectSymbols["HALT"] = "trading halted"

	report, err := s.Submit(context.Background(), submission("HALT", 10, "150"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if report.Status != ReportRejected || report.Reason != "trading halted" {
		t.Fatalf("expected rejection, got %+v", report)
	}
}

func TestSimulatorCommission(t *testing.T) {
	s := NewSimulator()
	s.CommissionBps = 10

	report, err := s.Submit(context.Background(), submission("AAPL", 100, "100"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	// 100 * 100 = 10000 notional at 10bps = 10.
	if !report.Commission.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected commission 10, got %s", report.Commission)
	}
}

func TestSimulatorStatusUnknownOrder(t *testing.T) {
	s := NewSimulator()
	if _, err := s.Status(context.Background(), uuid.New()); !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected unknown order, got %v", err)
	}
}

func TestSimulatorCancelBeforeSubmit(t *testing.T) {
	s := NewSimulator()
	orderID := uuid.New()

	if err := s.Cancel(context.Background(), orderID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	sub := submission("AAPL", 10, "150")
	sub.OrderID = orderID
	report, err := s.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if report.Status != ReportCancelled {
		t.Fatalf("expected the recorded cancel to win, got %s", report.Status)
	}
}

func TestSimulatorCancelAfterFillFails(t *testing.T) {
	s := NewSimulator()
	sub := submission("AAPL", 10, "150")
	if _, err := s.Submit(context.Background(), sub); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := s.Cancel(context.Background(), sub.OrderID); err == nil {
		t.Fatalf("expected cancel of executed order to fail")
	}
}

func TestBackoffBounds(t *testing.T) {
	if Backoff(0) != 250*time.Millisecond {
		t.Fatalf("expected base delay, got %s", Backoff(0))
	}
	if Backoff(1) != 500*time.Millisecond {
		t.Fatalf("expected doubled delay, got %s", Backoff(1))
	}
	if Backoff(30) != 30*time.Second {
		t.Fatalf("expected capped delay, got %s", Backoff(30))
	}
	if Backoff(-1) != 250*time.Millisecond {
		t.Fatalf("expected base delay for negative attempt, got %s", Backoff(-1))
	}
}

func TestDeterministicExecutionID(t *testing.T) {
	orderID := uuid.New()
	if DeterministicExecutionID(orderID, "fill") != DeterministicExecutionID(orderID, "fill") {
		t.Fatalf("expected stable execution id")
	}
	if DeterministicExecutionID(orderID, "fill") == DeterministicExecutionID(orderID, "cancelled") {
		t.Fatalf("expected distinct ids per state")
	}
}
