package position

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
	"github.com/tarigelamin1997/tradesense-sub003/internal/storage"
)

func fill(accountID uuid.UUID, symbol string, side domain.Side, qty int64, price string) Fill {
	return Fill{
		ExecutionID: uuid.New(),
		AccountID:   accountID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Price:       decimal.RequireFromString(price),
	}
}

func TestApplyFillOpensPosition(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()

	pos, err := m.ApplyFill(context.Background(), fill(accountID, "aapl", domain.SideBuy, 100, "150"))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if pos.Quantity != 100 {
		t.Fatalf("expected quantity 100, got %d", pos.Quantity)
	}
	if !pos.AverageCost.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected cost 150, got %s", pos.AverageCost)
	}
	if pos.Symbol != "AAPL" {
		t.Fatalf("expected normalized symbol, got %q", pos.Symbol)
	}
}

func TestApplyFillWeightedAverage(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	if _, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 100, "100")); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	pos, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 50, "130"))
	if err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if pos.Quantity != 150 {
		t.Fatalf("expected 150 shares, got %d", pos.Quantity)
	}
	// (100*100 + 50*130) / 150 = 110
	if !pos.AverageCost.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("expected cost 110, got %s", pos.AverageCost)
	}
}

func TestApplyFillReductionKeepsBasis(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	_, _ = m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 100, "100"))
	pos, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideSell, 40, "180"))
	if err != nil {
		t.Fatalf("sell fill: %v", err)
	}
	if pos.Quantity != 60 {
		t.Fatalf("expected 60 shares, got %d", pos.Quantity)
	}
	if !pos.AverageCost.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected basis unchanged at 100, got %s", pos.AverageCost)
	}
}

func TestApplyFillFlatResetsBasis(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	_, _ = m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 100, "100"))
	pos, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideSell, 100, "120"))
	if err != nil {
		t.Fatalf("closing fill: %v", err)
	}
	if pos.Quantity != 0 {
		t.Fatalf("expected flat, got %d", pos.Quantity)
	}
	if !pos.AverageCost.IsZero() {
		t.Fatalf("expected zero basis when flat, got %s", pos.AverageCost)
	}
}

func TestApplyFillCrossingZeroResetsToFillPrice(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	_, _ = m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 100, "100"))
	pos, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideSell, 150, "140"))
	if err != nil {
		t.Fatalf("crossing fill: %v", err)
	}
	if pos.Quantity != -50 {
		t.Fatalf("expected short 50, got %d", pos.Quantity)
	}
	if !pos.AverageCost.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("expected basis reset to 140, got %s", pos.AverageCost)
	}
}

func TestApplyFillDeduplicatesByExecutionID(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	f := fill(accountID, "AAPL", domain.SideBuy, 100, "100")
	if _, err := m.ApplyFill(ctx, f); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	pos, err := m.ApplyFill(ctx, f)
	if err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}
	if pos.Quantity != 100 {
		t.Fatalf("duplicate fill changed quantity: %d", pos.Quantity)
	}
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	if _, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 0, "100")); err == nil {
		t.Fatalf("expected error for zero quantity")
	}
	if _, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 10, "0")); err == nil {
		t.Fatalf("expected error for zero price")
	}
}

// Concurrent fills on the same instrument must serialize: the final quantity
// is the sum of all fills regardless of interleaving.
func TestApplyFillConcurrentSameInstrument(t *testing.T) {
	m := NewManager(storage.NewMemory(), nil)
	accountID := uuid.New()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 10, "100")); err != nil {
				t.Errorf("apply failed: %v", err)
			}
		}()
	}
	wg.Wait()

	pos, err := m.ApplyFill(ctx, fill(accountID, "AAPL", domain.SideBuy, 10, "100"))
	if err != nil {
		t.Fatalf("final fill: %v", err)
	}
	if pos.Quantity != (workers+1)*10 {
		t.Fatalf("expected %d shares, got %d", (workers+1)*10, pos.Quantity)
	}
}
