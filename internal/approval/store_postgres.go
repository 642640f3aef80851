package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// PostgresStore persists approval records in the approvals table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveToken(ctx context.Context, rec Record) error {
	detail := rec.Detail
	if detail == "" {
		detail = "{}"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approvals (item_id, task_token, type, detail, status, reason, requested_at, decided_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, '', $6, NULL)
		 ON CONFLICT (item_id) DO UPDATE
		    SET task_token = EXCLUDED.task_token,
		        type = EXCLUDED.type,
		        detail = EXCLUDED.detail,
		        status = EXCLUDED.status,
		        reason = '',
		        requested_at = EXCLUDED.requested_at,
		        decided_at = NULL`,
		rec.ItemID, rec.TaskToken, rec.Type, detail, StatusPending, rec.RequestedAt)
	if err != nil {
		return fmt.Errorf("save approval token: %w", err)
	}
	return nil
}

// Claim takes the token with a locked read plus conditional UPDATE in
// one statement. The FOR UPDATE qual is re-evaluated against the latest
// row version after a lock wait, so when a concurrent claim commits
// first the loser's CTE matches zero rows and the update never runs.
// RETURNING sees post-update values, which is why the pre-update token
// comes out of the CTE rather than the updated row.
func (s *PostgresStore) Claim(ctx context.Context, itemID string, decision Decision, reason string, decidedAt time.Time) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`WITH prev AS (
		    SELECT item_id, task_token, type, detail::text AS detail, requested_at
		      FROM approvals
		     WHERE item_id = $1
		       AND task_token IS NOT NULL
		       FOR UPDATE
		 )
		 UPDATE approvals AS cur
		    SET status = $2, reason = $3, decided_at = $4, task_token = NULL
		   FROM prev
		  WHERE cur.item_id = prev.item_id
		 RETURNING prev.task_token, prev.type, prev.detail, prev.requested_at`,
		itemID, string(decision), reason, decidedAt)

	rec := Record{
		ItemID:    itemID,
		Status:    string(decision),
		Reason:    reason,
		DecidedAt: &decidedAt,
	}
	var token *string
	if err := row.Scan(&token, &rec.Type, &rec.Detail, &rec.RequestedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperr.NotFoundError{Kind: "approval", ID: itemID}
		}
		return nil, fmt.Errorf("claim approval token: %w", err)
	}
	if token != nil {
		rec.TaskToken = *token
	}
	return &rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, itemID string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COALESCE(task_token, ''), type, detail::text, status, reason, requested_at, decided_at
		   FROM approvals WHERE item_id = $1`, itemID)

	rec := Record{ItemID: itemID}
	if err := row.Scan(&rec.TaskToken, &rec.Type, &rec.Detail, &rec.Status, &rec.Reason, &rec.RequestedAt, &rec.DecidedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperr.NotFoundError{Kind: "approval", ID: itemID}
		}
		return nil, fmt.Errorf("load approval: %w", err)
	}
	return &rec, nil
}
