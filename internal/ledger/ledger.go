package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation closed")
)

type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationSettled  ReservationStatus = "settled"
	ReservationReleased ReservationStatus = "released"
)

type Reservation struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	ConsumedAmount decimal.Decimal
	Status         ReservationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CashStore is the durable account balance behind the ledger.
type CashStore interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ApplyCashDelta(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal) error
}

// Ledger tracks available buying power per account and holds, settles, and
// releases capital reservations. All balance mutation for one account runs
// through that account's lock; available balance is cash minus the sum of
// held reservations, and no two orders can together reserve past it.
type Ledger struct {
	store  CashStore
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[uuid.UUID]*accountState
	resIndex map[uuid.UUID]uuid.UUID // reservation id -> account id
}

type accountState struct {
	mu           sync.Mutex
	loaded       bool
	cash         decimal.Decimal
	reservations map[uuid.UUID]*Reservation
	byOrder      map[uuid.UUID]uuid.UUID // order id -> reservation id
}

func New(store CashStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:    store,
		logger:   logger,
		accounts: make(map[uuid.UUID]*accountState),
		resIndex: make(map[uuid.UUID]uuid.UUID),
	}
}

func (l *Ledger) account(accountID uuid.UUID) *accountState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.accounts[accountID]
	if !ok {
		st = &accountState{
			reservations: make(map[uuid.UUID]*Reservation),
			byOrder:      make(map[uuid.UUID]uuid.UUID),
		}
		l.accounts[accountID] = st
	}
	return st
}

func (st *accountState) load(ctx context.Context, store CashStore, accountID uuid.UUID) error {
	if st.loaded {
		return nil
	}
	acct, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account cash: %w", err)
	}
	st.cash = acct.CashBalance
	st.loaded = true
	return nil
}

func (st *accountState) heldTotal() decimal.Decimal {
	total := decimal.Zero
	for _, res := range st.reservations {
		if res.Status == ReservationHeld {
			total = total.Add(res.Amount)
		}
	}
	return total
}

// Reserve places a hold of amount against the account's available balance.
// Reserving again for the same order id returns the existing held
// reservation, so a retried pipeline step cannot double-hold.
func (l *Ledger) Reserve(ctx context.Context, accountID, orderID uuid.UUID, amount decimal.Decimal) (*Reservation, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("reserve amount must be positive")
	}
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}

	st := l.account(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.load(ctx, l.store, accountID); err != nil {
		return nil, err
	}

	if resID, ok := st.byOrder[orderID]; ok {
		existing := st.reservations[resID]
		if existing.Status != ReservationHeld {
			return nil, ErrReservationClosed
		}
		return existing.clone(), nil
	}

	available := st.cash.Sub(st.heldTotal())
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("%w: required %s, available %s",
			domain.ErrInsufficientFunds, amount, available)
	}

	now := time.Now().UTC()
	res := &Reservation{
		ID:        uuid.New(),
		OrderID:   orderID,
		AccountID: accountID,
		Amount:    amount,
		Status:    ReservationHeld,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.reservations[res.ID] = res
	st.byOrder[orderID] = res.ID

	l.mu.Lock()
	l.resIndex[res.ID] = accountID
	l.mu.Unlock()

	return res.clone(), nil
}

// Settle converts a held reservation into a realized cash debit of
// actualAmount, releasing the difference. Settling more than was reserved is
// an inconsistency and leaves the reservation held for manual review.
func (l *Ledger) Settle(ctx context.Context, reservationID uuid.UUID, actualAmount decimal.Decimal) (*Reservation, error) {
	if actualAmount.IsNegative() {
		return nil, fmt.Errorf("%w: settlement amount %s is negative", domain.ErrLedgerInconsistency, actualAmount)
	}

	st, accountID, err := l.lookup(reservationID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	res, ok := st.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.Status != ReservationHeld {
		return nil, ErrReservationClosed
	}
	if actualAmount.GreaterThan(res.Amount) {
		return nil, fmt.Errorf("%w: settlement %s exceeds reserved %s for order %s",
			domain.ErrLedgerInconsistency, actualAmount, res.Amount, res.OrderID)
	}

	if actualAmount.GreaterThan(decimal.Zero) {
		if err := l.store.ApplyCashDelta(ctx, accountID, actualAmount.Neg()); err != nil {
			return nil, fmt.Errorf("%w: cash debit failed: %v", domain.ErrLedgerInconsistency, err)
		}
		st.cash = st.cash.Sub(actualAmount)
	}

	res.Status = ReservationSettled
	res.ConsumedAmount = actualAmount
	res.UpdatedAt = time.Now().UTC()
	return res.clone(), nil
}

// Release frees a held reservation without settlement.
func (l *Ledger) Release(_ context.Context, reservationID uuid.UUID) (*Reservation, error) {
	st, _, err := l.lookup(reservationID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	res, ok := st.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.Status != ReservationHeld {
		return nil, ErrReservationClosed
	}
	res.Status = ReservationReleased
	res.UpdatedAt = time.Now().UTC()
	return res.clone(), nil
}

// Credit applies a cash increase (sell proceeds) outside any reservation.
func (l *Ledger) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("credit amount must be positive")
	}
	st := l.account(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.load(ctx, l.store, accountID); err != nil {
		return err
	}
	if err := l.store.ApplyCashDelta(ctx, accountID, amount); err != nil {
		return fmt.Errorf("cash credit failed: %w", err)
	}
	st.cash = st.cash.Add(amount)
	return nil
}

// Available returns cash minus held reservations for the account.
func (l *Ledger) Available(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	st := l.account(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.load(ctx, l.store, accountID); err != nil {
		return decimal.Zero, err
	}
	return st.cash.Sub(st.heldTotal()), nil
}

// ReservationByOrder returns the reservation for an order id, if any.
func (l *Ledger) ReservationByOrder(accountID, orderID uuid.UUID) (*Reservation, bool) {
	st := l.account(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	resID, ok := st.byOrder[orderID]
	if !ok {
		return nil, false
	}
	return st.reservations[resID].clone(), true
}

func (l *Ledger) lookup(reservationID uuid.UUID) (*accountState, uuid.UUID, error) {
	l.mu.Lock()
	accountID, ok := l.resIndex[reservationID]
	l.mu.Unlock()
	if !ok {
		return nil, uuid.Nil, ErrReservationNotFound
	}
	return l.account(accountID), accountID, nil
}

func (r *Reservation) clone() *Reservation {
	copied := *r
	return &copied
}
