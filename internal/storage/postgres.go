package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

// Postgres implements AccountStore on a pgx pool. Decimals travel as text to
// avoid float conversion on numeric columns.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ AccountStore = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var acct domain.Account
	var cashStr string
	row := s.pool.QueryRow(ctx, `
		SELECT id, cash_balance::text, status, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID)
	if err := row.Scan(&acct.ID, &cashStr, &acct.Status, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return nil, fmt.Errorf("parse cash balance: %w", err)
	}
	acct.CashBalance = cash
	return &acct, nil
}

func (s *Postgres) ApplyCashDelta(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET cash_balance = cash_balance + $2, updated_at = now()
		WHERE id = $1
	`, accountID, delta.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetPosition(ctx context.Context, accountID uuid.UUID, symbol string) (*domain.Position, error) {
	var pos domain.Position
	var avgStr string
	row := s.pool.QueryRow(ctx, `
		SELECT account_id, symbol, quantity, average_cost::text, updated_at
		FROM positions
		WHERE account_id = $1 AND symbol = $2
	`, accountID, strings.ToUpper(symbol))
	if err := row.Scan(&pos.AccountID, &pos.Symbol, &pos.Quantity, &avgStr, &pos.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return nil, fmt.Errorf("parse average cost: %w", err)
	}
	pos.AverageCost = avg
	return &pos, nil
}

func (s *Postgres) ListPositions(ctx context.Context, accountID uuid.UUID) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, symbol, quantity, average_cost::text, updated_at
		FROM positions
		WHERE account_id = $1
		ORDER BY symbol
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var pos domain.Position
		var avgStr string
		if err := rows.Scan(&pos.AccountID, &pos.Symbol, &pos.Quantity, &avgStr, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		pos.AverageCost, err = decimal.NewFromString(avgStr)
		if err != nil {
			return nil, fmt.Errorf("parse average cost: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *Postgres) UpsertPosition(ctx context.Context, pos domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (account_id, symbol, quantity, average_cost, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account_id, symbol)
		DO UPDATE SET quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost, updated_at = now()
	`, pos.AccountID, strings.ToUpper(pos.Symbol), pos.Quantity, pos.AverageCost.String())
	return err
}

func (s *Postgres) GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var priceStr string
	row := s.pool.QueryRow(ctx, `
		SELECT price::text
		FROM reference_prices
		WHERE symbol = $1
	`, strings.ToUpper(symbol))
	if err := row.Scan(&priceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse reference price: %w", err)
	}
	return price, nil
}

func (s *Postgres) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, account_id, symbol, side, type, quantity, limit_price, stop_price,
			time_in_force, status, filled_quantity, avg_fill_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, order.ID, order.AccountID, order.Symbol, order.Side, order.Type, order.Quantity,
		decimalPtrString(order.LimitPrice), decimalPtrString(order.StopPrice),
		order.TimeInForce, order.Status, order.FilledQuantity, order.AvgFillPrice.String())
	return err
}

func (s *Postgres) UpdateOrder(ctx context.Context, order domain.Order) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $2, filled_quantity = $3, avg_fill_price = $4, updated_at = now()
		WHERE id = $1
	`, order.ID, order.Status, order.FilledQuantity, order.AvgFillPrice.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) InsertAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_audit (order_id, ts, from_state, to_state, actor, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.OrderID, entry.Timestamp, entry.FromState, entry.ToState, entry.Actor, entry.Detail)
	return err
}

func decimalPtrString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
