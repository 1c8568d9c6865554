package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type BlockRepository interface {
	// CanMatch is false when either identity blocked the other.
	CanMatch(ctx context.Context, a, b string) (bool, error)
	RecordBlock(ctx context.Context, blocker, blocked string) error
}

type blockRepo struct {
	db *sqlx.DB
}

func NewBlockRepository(db *sqlx.DB) BlockRepository {
	return &blockRepo{db: db}
}

func (r *blockRepo) CanMatch(ctx context.Context, a, b string) (bool, error) {
	var blocked bool
	err := r.db.GetContext(ctx, &blocked, `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)
	`, a, b)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

func (r *blockRepo) RecordBlock(ctx context.Context, blocker, blocked string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING
	`, blocker, blocked)
	return err
}
