package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type IdentityRepository interface {
	// Claim records persistedID and reports whether it had not been seen before.
	Claim(ctx context.Context, persistedID string) (bool, error)
}

type identityRepo struct {
	db *sqlx.DB
}

func NewIdentityRepository(db *sqlx.DB) IdentityRepository {
	return &identityRepo{db: db}
}

func (r *identityRepo) Claim(ctx context.Context, persistedID string) (bool, error) {
	n, err := affected(r.db.ExecContext(ctx, `
		INSERT INTO persisted_ids (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, persistedID))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
