package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration.
//
// webhook_events is the idempotency ledger: the primary key on event_id is the
// uniqueness constraint that closes the duplicate-delivery race. subscriptions
// carries a version column for optimistic updates and a unique subject_id so
// there is exactly one row per provider subscription.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS webhook_events (
			event_id    TEXT PRIMARY KEY,
			event_type  TEXT NOT NULL,
			subject_id  TEXT NOT NULL,
			user_id     TEXT,
			summary     TEXT NOT NULL,
			raw_payload TEXT,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			subject_id           TEXT NOT NULL UNIQUE,
			variant_id           TEXT NOT NULL,
			status               TEXT NOT NULL,
			plan_name            TEXT NOT NULL,
			plan_credits         BIGINT NOT NULL,
			current_period_start TIMESTAMPTZ NOT NULL,
			current_period_end   TIMESTAMPTZ NOT NULL,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			version              BIGINT NOT NULL DEFAULT 1,
			last_event_at        TIMESTAMPTZ NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);

		CREATE TABLE IF NOT EXISTS payment_records (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			order_id     TEXT NOT NULL UNIQUE,
			subject_id   TEXT,
			amount_cents BIGINT NOT NULL,
			credits      BIGINT NOT NULL,
			status       TEXT NOT NULL,
			method       TEXT NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payment_records_user_id ON payment_records(user_id);

		CREATE TABLE IF NOT EXISTS credit_balances (
			user_id        TEXT PRIMARY KEY,
			total_granted  BIGINT NOT NULL DEFAULT 0,
			total_consumed BIGINT NOT NULL DEFAULT 0,
			version        BIGINT NOT NULL DEFAULT 0,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS credit_transactions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			amount      BIGINT NOT NULL,
			source      TEXT NOT NULL,
			description TEXT NOT NULL,
			event_id    TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
