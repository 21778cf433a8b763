package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
)

// AccountStore is the account data store the pipeline reads balances and
// positions from and writes reconciled state back to. Assumed transactional
// per account. Production implementation is postgres; an in-memory
// implementation backs dev mode and tests.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ApplyCashDelta(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal) error

	GetPosition(ctx context.Context, accountID uuid.UUID, symbol string) (*domain.Position, error)
	ListPositions(ctx context.Context, accountID uuid.UUID) ([]domain.Position, error)
	UpsertPosition(ctx context.Context, pos domain.Position) error

	GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	InsertOrder(ctx context.Context, order domain.Order) error
	UpdateOrder(ctx context.Context, order domain.Order) error

	InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error
}
