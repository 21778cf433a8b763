package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
	"github.com/tarigelamin1997/tradesense-sub003/internal/storage"
)

// Store persists reconciled positions.
type Store interface {
	GetPosition(ctx context.Context, accountID uuid.UUID, symbol string) (*domain.Position, error)
	UpsertPosition(ctx context.Context, pos domain.Position) error
}

// Fill is one confirmed execution to apply to a position. ExecutionID
// deduplicates retried fills.
type Fill struct {
	ExecutionID uuid.UUID
	AccountID   uuid.UUID
	Symbol      string
	Side        domain.Side
	Quantity    int64
	Price       decimal.Decimal
}

// Manager owns per-account, per-instrument position state. Updates to one
// (account, symbol) pair are serialized; fills arrive in order and never
// interleave their read-modify-write.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// applied dedupes fills by execution id for the process lifetime;
	// entries would need eviction after the venue's replay horizon before
	// this serves long-lived high-volume deployments.
	applied map[uuid.UUID]struct{}
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
		applied: make(map[uuid.UUID]struct{}),
	}
}

func (m *Manager) keyLock(accountID uuid.UUID, symbol string) *sync.Mutex {
	key := accountID.String() + "|" + strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// ApplyFill folds one fill into the position using weighted average cost.
// A fill already applied under the same execution id returns the current
// position unchanged.
func (m *Manager) ApplyFill(ctx context.Context, fill Fill) (*domain.Position, error) {
	if fill.Quantity <= 0 {
		return nil, fmt.Errorf("fill quantity must be positive")
	}
	if fill.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("fill price must be positive")
	}

	lock := m.keyLock(fill.AccountID, fill.Symbol)
	lock.Lock()
	defer lock.Unlock()

	symbol := strings.ToUpper(fill.Symbol)

	m.mu.Lock()
	_, duplicate := m.applied[fill.ExecutionID]
	m.mu.Unlock()
	if duplicate {
		m.logger.Warn("duplicate fill ignored",
			"execution_id", fill.ExecutionID.String(),
			"account_id", fill.AccountID.String(),
			"symbol", symbol,
		)
		return m.current(ctx, fill.AccountID, symbol)
	}

	pos, err := m.current(ctx, fill.AccountID, symbol)
	if err != nil {
		return nil, err
	}

	next := apply(*pos, fill.Side, fill.Quantity, fill.Price)
	next.UpdatedAt = time.Now().UTC()

	if err := m.store.UpsertPosition(ctx, next); err != nil {
		return nil, fmt.Errorf("persist position: %w", err)
	}

	m.mu.Lock()
	m.applied[fill.ExecutionID] = struct{}{}
	m.mu.Unlock()

	return &next, nil
}

func (m *Manager) current(ctx context.Context, accountID uuid.UUID, symbol string) (*domain.Position, error) {
	pos, err := m.store.GetPosition(ctx, accountID, symbol)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &domain.Position{
				AccountID:   accountID,
				Symbol:      symbol,
				Quantity:    0,
				AverageCost: decimal.Zero,
			}, nil
		}
		return nil, fmt.Errorf("load position: %w", err)
	}
	return pos, nil
}

// apply computes the post-fill position. Buys increasing a long position
// re-average cost; reductions keep the basis; crossing through zero resets
// the basis to the fill price for the residual quantity.
func apply(pos domain.Position, side domain.Side, qty int64, price decimal.Decimal) domain.Position {
	signed := qty
	if side == domain.SideSell {
		signed = -qty
	}
	oldQty := pos.Quantity
	newQty := oldQty + signed

	switch {
	case oldQty == 0:
		pos.AverageCost = price
	case newQty == 0:
		pos.AverageCost = decimal.Zero
	case (oldQty > 0) != (newQty > 0):
		// Crossed through zero.
		pos.AverageCost = price
	case (oldQty > 0) == (signed > 0):
		// Same-direction increase: weighted average.
		oldAbs := decimal.NewFromInt(abs(oldQty))
		addAbs := decimal.NewFromInt(abs(signed))
		total := oldAbs.Mul(pos.AverageCost).Add(addAbs.Mul(price))
		pos.AverageCost = total.Div(oldAbs.Add(addAbs))
	default:
		// Partial reduction: basis unchanged.
	}

	pos.Quantity = newQty
	return pos
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
