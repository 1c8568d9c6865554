package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hologram-chat/rendezvous-server/internal/config"
	"github.com/hologram-chat/rendezvous-server/internal/database"
	"github.com/hologram-chat/rendezvous-server/internal/model"
)

// BanPolicy shapes the ledger. Every deduction expires after Expiry. The
// deduction that takes reputation to zero also records one ban entry per
// tier, where tier n lasts n*Expiry. An identity is banned at magnitude n
// while it holds at least n live entries of tier n, so repeated offences
// escalate to longer bans.
type BanPolicy struct {
	ReputationMax int
	Expiry        time.Duration
	Tiers         int
}

func BanPolicyFromConfig(cfg *config.Config) BanPolicy {
	return BanPolicy{
		ReputationMax: cfg.ReputationMax,
		Expiry:        cfg.ReputationExpiry(),
		Tiers:         cfg.BanTiers,
	}
}

type LedgerRepository interface {
	GetReputation(ctx context.Context, persistedID string) (int, error)
	Deduct(ctx context.Context, persistedID string) (bool, error)
	Increment(ctx context.Context, persistedID string) error
	GetBan(ctx context.Context, persistedID string) (*model.BanStatus, error)
	Clear(ctx context.Context, persistedID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type ledgerRepo struct {
	db     *database.DB
	policy BanPolicy
}

func NewLedgerRepository(db *database.DB, policy BanPolicy) LedgerRepository {
	return &ledgerRepo{db: db, policy: policy}
}

func (r *ledgerRepo) GetReputation(ctx context.Context, persistedID string) (int, error) {
	return r.reputation(ctx, r.db, persistedID)
}

func (r *ledgerRepo) reputation(ctx context.Context, q database.Querier, persistedID string) (int, error) {
	var deductions int
	err := q.GetContext(ctx, &deductions, `
		SELECT COUNT(*) FROM reputation_deductions
		WHERE persisted_id = $1 AND expires_at > NOW()
	`, persistedID)
	if err != nil {
		return 0, err
	}

	reputation := r.policy.ReputationMax - deductions
	if reputation < 0 {
		reputation = 0
	}
	return reputation, nil
}

// Deduct records one deduction and reports whether it took the identity to
// zero, in which case the ban entries are written in the same transaction.
func (r *ledgerRepo) Deduct(ctx context.Context, persistedID string) (bool, error) {
	var banned bool
	err := r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		// Serialises concurrent deductions for one identity.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, persistedID); err != nil {
			return fmt.Errorf("lock ledger: %w", err)
		}

		current, err := r.reputation(ctx, tx, persistedID)
		if err != nil {
			return fmt.Errorf("load reputation: %w", err)
		}
		if current <= 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reputation_deductions (persisted_id, expires_at)
			VALUES ($1, NOW() + make_interval(secs => $2))
		`, persistedID, r.policy.Expiry.Seconds())
		if err != nil {
			return fmt.Errorf("insert deduction: %w", err)
		}
		if current-1 > 0 {
			return nil
		}

		for tier := 1; tier <= r.policy.Tiers; tier++ {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO bans (persisted_id, tier, expires_at)
				VALUES ($1, $2, NOW() + make_interval(secs => $3))
			`, persistedID, tier, (time.Duration(tier) * r.policy.Expiry).Seconds())
			if err != nil {
				return fmt.Errorf("insert ban tier %d: %w", tier, err)
			}
		}
		banned = true
		return nil
	})
	return banned, err
}

// Increment forgives the oldest live deduction.
func (r *ledgerRepo) Increment(ctx context.Context, persistedID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM reputation_deductions
		WHERE id = (
			SELECT id FROM reputation_deductions
			WHERE persisted_id = $1 AND expires_at > NOW()
			ORDER BY created_at
			LIMIT 1
		)
	`, persistedID)
	return err
}

type tierCount struct {
	Tier      int       `db:"tier"`
	Entries   int       `db:"entries"`
	ExpiresAt time.Time `db:"expires_at"`
}

// GetBan returns the most severe tier in force, or nil.
func (r *ledgerRepo) GetBan(ctx context.Context, persistedID string) (*model.BanStatus, error) {
	var top tierCount
	err := r.db.GetContext(ctx, &top, `
		SELECT tier, COUNT(*) AS entries, MAX(expires_at) AS expires_at
		FROM bans
		WHERE persisted_id = $1 AND expires_at > NOW() AND tier <= $2
		GROUP BY tier
		HAVING COUNT(*) >= tier
		ORDER BY tier DESC
		LIMIT 1
	`, persistedID, r.policy.Tiers)
	found, err := inForce(&top, err)
	if err != nil || found == nil {
		return nil, err
	}

	remaining := time.Until(found.ExpiresAt)
	if remaining <= 0 {
		return nil, nil
	}
	return &model.BanStatus{Magnitude: uint8(found.Tier), Remaining: remaining}, nil
}

// Clear wipes the identity's deductions and bans after a paid regeneration.
func (r *ledgerRepo) Clear(ctx context.Context, persistedID string) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reputation_deductions WHERE persisted_id = $1`, persistedID); err != nil {
			return fmt.Errorf("clear deductions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bans WHERE persisted_id = $1`, persistedID); err != nil {
			return fmt.Errorf("clear bans: %w", err)
		}
		return nil
	})
}

func (r *ledgerRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var total int64
	for _, table := range []string{"reputation_deductions", "bans"} {
		n, err := affected(r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at < NOW()`))
		if err != nil {
			return total, fmt.Errorf("delete expired %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}
