// Command seed provisions the order pipeline schema and demo data for dev
// and test environments. It refuses to run anywhere else.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	env := getEnv("TRADESENSE_APP_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: TRADESENSE_APP_ENV must be 'dev' or 'test' (got %q)", env)
	}

	dsn := os.Getenv("TRADESENSE_POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("TRADESENSE_POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding order pipeline database...")

	if err := createSchema(ctx, pool); err != nil {
		log.Fatalf("create schema: %v", err)
	}
	fmt.Println("✓ Schema ready")

	accounts, err := seedAccounts(ctx, pool)
	if err != nil {
		log.Fatalf("seed accounts: %v", err)
	}
	fmt.Println("✓ Accounts seeded")

	if err := seedReferencePrices(ctx, pool); err != nil {
		log.Fatalf("seed reference prices: %v", err)
	}
	fmt.Println("✓ Reference prices seeded")

	if err := seedPositions(ctx, pool, accounts); err != nil {
		log.Fatalf("seed positions: %v", err)
	}
	fmt.Println("✓ Positions seeded")

	fmt.Println()
	fmt.Println("Demo accounts:")
	for name, id := range accounts {
		fmt.Printf("  %-12s %s\n", name, id)
	}
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			cash_balance NUMERIC(20, 4) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			account_id UUID NOT NULL REFERENCES accounts(id),
			symbol TEXT NOT NULL,
			quantity BIGINT NOT NULL DEFAULT 0,
			average_cost NUMERIC(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS reference_prices (
			symbol TEXT PRIMARY KEY,
			price NUMERIC(20, 8) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			limit_price NUMERIC(20, 8),
			stop_price NUMERIC(20, 8),
			time_in_force TEXT NOT NULL,
			status TEXT NOT NULL,
			filled_quantity BIGINT NOT NULL DEFAULT 0,
			avg_fill_price NUMERIC(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_account ON orders (account_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS order_audit (
			id BIGSERIAL PRIMARY KEY,
			order_id UUID NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			actor TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_audit_order ON order_audit (order_id, ts)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func seedAccounts(ctx context.Context, pool *pgxpool.Pool) (map[string]uuid.UUID, error) {
	accounts := map[string]decimal.Decimal{
		"demo":   decimal.NewFromInt(100_000),
		"trader": decimal.NewFromInt(1_000_000),
		"small":  decimal.NewFromInt(5_000),
	}
	ids := make(map[string]uuid.UUID, len(accounts))
	for name, cash := range accounts {
		// Stable ids so reseeding is idempotent.
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("tradesense-account-"+name))
		ids[name] = id
		_, err := pool.Exec(ctx, `
			INSERT INTO accounts (id, cash_balance, status)
			VALUES ($1, $2, 'active')
			ON CONFLICT (id) DO UPDATE SET cash_balance = EXCLUDED.cash_balance, updated_at = now()
		`, id, cash.String())
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
	}
	return ids, nil
}

func seedReferencePrices(ctx context.Context, pool *pgxpool.Pool) error {
	prices := map[string]string{
		"AAPL":  "230.50",
		"MSFT":  "425.10",
		"GOOGL": "178.25",
		"AMZN":  "186.40",
		"NVDA":  "132.80",
		"TSLA":  "248.90",
		"BRK.B": "465.30",
		"SPY":   "560.75",
	}
	for symbol, price := range prices {
		_, err := pool.Exec(ctx, `
			INSERT INTO reference_prices (symbol, price)
			VALUES ($1, $2)
			ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = now()
		`, symbol, price)
		if err != nil {
			return fmt.Errorf("price %s: %w", symbol, err)
		}
	}
	return nil
}

func seedPositions(ctx context.Context, pool *pgxpool.Pool, accounts map[string]uuid.UUID) error {
	traderID, ok := accounts["trader"]
	if !ok {
		return nil
	}
	positions := []struct {
		symbol string
		qty    int64
		cost   string
	}{
		{"AAPL", 500, "195.20"},
		{"MSFT", 200, "398.75"},
		{"SPY", 100, "531.00"},
	}
	for _, p := range positions {
		_, err := pool.Exec(ctx, `
			INSERT INTO positions (account_id, symbol, quantity, average_cost)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id, symbol)
			DO UPDATE SET quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost, updated_at = now()
		`, traderID, p.symbol, p.qty, p.cost)
		if err != nil {
			return fmt.Errorf("position %s: %w", p.symbol, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
