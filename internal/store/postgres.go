package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// NewPostgresPool connects and pings a pgx pool for the given DSN.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("postgres: DSN is required")
	}
	pool, err := pgxpool.New(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the approvals and user_profiles tables when absent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS approvals (
			item_id      TEXT PRIMARY KEY,
			task_token   TEXT,
			type         TEXT NOT NULL DEFAULT '',
			detail       JSONB NOT NULL DEFAULT '{}'::jsonb,
			status       TEXT NOT NULL DEFAULT 'PENDING',
			reason       TEXT NOT NULL DEFAULT '',
			requested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			decided_at   TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			id         TEXT PRIMARY KEY,
			email      TEXT,
			role       TEXT NOT NULL DEFAULT 'FAN',
			tier       TEXT NOT NULL DEFAULT 'FREE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	log.Debug("postgres schema ensured")
	return nil
}
