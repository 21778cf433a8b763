package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

// Memory is an in-memory AccountStore for dev mode and tests.
type Memory struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]*domain.Account
	positions map[uuid.UUID]map[string]domain.Position
	prices    map[string]decimal.Decimal
	orders    map[uuid.UUID]domain.Order
	audit     []domain.AuditEntry
}

var _ AccountStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[uuid.UUID]*domain.Account),
		positions: make(map[uuid.UUID]map[string]domain.Position),
		prices:    make(map[string]decimal.Decimal),
		orders:    make(map[uuid.UUID]domain.Order),
	}
}

func (s *Memory) SeedAccount(accountID uuid.UUID, cash decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = &domain.Account{
		ID:          accountID,
		CashBalance: cash,
		Status:      "active",
		UpdatedAt:   time.Now().UTC(),
	}
}

func (s *Memory) SeedPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(symbol)] = price
}

func (s *Memory) GetAccount(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *acct
	return &copied, nil
}

func (s *Memory) ApplyCashDelta(_ context.Context, accountID uuid.UUID, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	acct.CashBalance = acct.CashBalance.Add(delta)
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) GetPosition(_ context.Context, accountID uuid.UUID, symbol string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[accountID][strings.ToUpper(symbol)]
	if !ok {
		return nil, ErrNotFound
	}
	return &pos, nil
}

func (s *Memory) ListPositions(_ context.Context, accountID uuid.UUID) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, pos := range s.positions[accountID] {
		out = append(out, pos)
	}
	return out, nil
}

func (s *Memory) UpsertPosition(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bysym, ok := s.positions[pos.AccountID]
	if !ok {
		bysym = make(map[string]domain.Position)
		s.positions[pos.AccountID] = bysym
	}
	pos.Symbol = strings.ToUpper(pos.Symbol)
	pos.UpdatedAt = time.Now().UTC()
	bysym[pos.Symbol] = pos
	return nil
}

func (s *Memory) GetReferencePrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return price, nil
}

func (s *Memory) InsertOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return nil
	}
	s.orders[order.ID] = order
	return nil
}

func (s *Memory) UpdateOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; !exists {
		return ErrNotFound
	}
	s.orders[order.ID] = order
	return nil
}

func (s *Memory) InsertAuditEntry(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a snapshot of recorded audit entries.
func (s *Memory) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
