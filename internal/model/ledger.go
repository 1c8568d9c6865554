package model

import "time"

type ReputationDeduction struct {
	ID          int64     `db:"id" json:"id"`
	PersistedID string    `db:"persisted_id" json:"persistedId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt   time.Time `db:"expires_at" json:"expiresAt"`
}

type Ban struct {
	ID          int64     `db:"id" json:"id"`
	PersistedID string    `db:"persisted_id" json:"persistedId"`
	Tier        int       `db:"tier" json:"tier"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt   time.Time `db:"expires_at" json:"expiresAt"`
}

// BanStatus is the currently effective ban of an identity.
type BanStatus struct {
	Magnitude uint8
	Remaining time.Duration
}

type Block struct {
	BlockerID string    `db:"blocker_id" json:"blockerId"`
	BlockedID string    `db:"blocked_id" json:"blockedId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
