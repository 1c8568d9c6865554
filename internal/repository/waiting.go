package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hologram-chat/rendezvous-server/internal/model"
)

// WaitingRepository stores the sessions that are waiting for a partner.
type WaitingRepository interface {
	FindMatch(ctx context.Context, rec model.WaitingRecord, acceptable []model.Gender, limit int) ([]string, error)
	PushWaiting(ctx context.Context, rec model.WaitingRecord) error
	RemoveWaiting(ctx context.Context, id string) error
	DeleteByServer(ctx context.Context, serverName string) (int64, error)
}

type waitingRepo struct {
	db *sqlx.DB
}

func NewWaitingRepository(db *sqlx.DB) WaitingRepository {
	return &waitingRepo{db: db}
}

// FindMatch returns the nearest waiting keys on the same server whose
// gender_wanted is one of acceptable and whose gender rec wants.
func (r *waitingRepo) FindMatch(ctx context.Context, rec model.WaitingRecord, acceptable []model.Gender, limit int) ([]string, error) {
	wanted := make([]int64, 0, len(acceptable))
	for _, g := range acceptable {
		wanted = append(wanted, int64(g))
	}

	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM waiting_sessions
		WHERE server_name = $1
		  AND id <> $2
		  AND gender_wanted = ANY($3)
		  AND ($4 = 3 OR gender = $4)
		ORDER BY 2 * asin(sqrt(
			power(sin(radians(latitude - $5) / 2), 2) +
			cos(radians($5)) * cos(radians(latitude)) * power(sin(radians(longitude - $6) / 2), 2)
		)), created_at
		LIMIT $7
	`, rec.ServerName, rec.ID, pq.Array(wanted), int64(rec.GenderWanted), rec.Latitude, rec.Longitude, limit)
	return ids, err
}

func (r *waitingRepo) PushWaiting(ctx context.Context, rec model.WaitingRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO waiting_sessions (id, server_name, age, gender, gender_wanted, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			gender_wanted = EXCLUDED.gender_wanted,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude
	`, rec.ID, rec.ServerName, int64(rec.Age), int64(rec.Gender), int64(rec.GenderWanted), rec.Latitude, rec.Longitude)
	return err
}

func (r *waitingRepo) RemoveWaiting(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM waiting_sessions WHERE id = $1`, id)
	return err
}

// DeleteByServer drops the rows a previous run of serverName left behind.
func (r *waitingRepo) DeleteByServer(ctx context.Context, serverName string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM waiting_sessions WHERE server_name = $1`, serverName))
}
