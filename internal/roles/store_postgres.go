package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// PostgresStore persists profiles in the user_profiles table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, sub string) (*Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(email, ''), role, tier, created_at, updated_at
		   FROM user_profiles WHERE id = $1`, sub)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperr.NotFoundError{Kind: "profile", ID: sub}
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) EnsureProfile(ctx context.Context, sub, email string) (*Profile, error) {
	p, err := s.Get(ctx, sub)
	if err == nil {
		return p, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	fresh := defaultProfile(sub, email, time.Now().UTC())
	// ON CONFLICT DO NOTHING tolerates a concurrent first-login insert;
	// whoever lost the race reads the winner back.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO user_profiles (id, email, role, tier, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $5)
		 ON CONFLICT (id) DO NOTHING`,
		fresh.ID, fresh.Email, fresh.Role, fresh.Tier, fresh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.Get(ctx, sub)
	}
	return fresh, nil
}

func (s *PostgresStore) SetRole(ctx context.Context, input SetRoleInput) (*Profile, error) {
	existing, err := s.Get(ctx, input.UserID)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	merged, err := mergeSetRole(existing, input, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_profiles (id, email, role, tier, created_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		    SET email = EXCLUDED.email,
		        role = EXCLUDED.role,
		        tier = EXCLUDED.tier,
		        updated_at = EXCLUDED.updated_at`,
		merged.ID, merged.Email, merged.Role, merged.Tier, merged.CreatedAt, merged.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return merged, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var role, tier string
	if err := row.Scan(&p.ID, &p.Email, &role, &tier, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = ParseRole(role)
	p.Tier = ParseTier(tier)
	return &p, nil
}
