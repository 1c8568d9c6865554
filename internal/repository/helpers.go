package repository

import (
	"database/sql"
	"errors"
)

// inForce returns nil when a ledger lookup found no row, which means
// nothing is in force for the identity.
func inForce[T any](row *T, err error) (*T, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return row, nil
}

// affected reports how many rows a write touched.
func affected(result sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
