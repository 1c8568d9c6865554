package matchmaking

import (
	"context"
	"time"

	"github.com/hologram-chat/rendezvous-server/internal/config"
	"github.com/hologram-chat/rendezvous-server/internal/model"
)

// WaitingStore persists the sessions that are waiting for a partner so
// that matching can run a nearest-first query over them.
type WaitingStore interface {
	// FindMatch returns up to limit waiting keys, nearest first, whose
	// gender_wanted is in acceptable and whose gender rec wants.
	FindMatch(ctx context.Context, rec model.WaitingRecord, acceptable []model.Gender, limit int) ([]string, error)
	PushWaiting(ctx context.Context, rec model.WaitingRecord) error
	RemoveWaiting(ctx context.Context, id string) error
}

// Ledger tracks reputation deductions and the bans they escalate into.
type Ledger interface {
	GetReputation(ctx context.Context, persistedID string) (int, error)
	// Deduct removes one point and reports whether the identity is now banned.
	Deduct(ctx context.Context, persistedID string) (bool, error)
	Increment(ctx context.Context, persistedID string) error
	// GetBan returns nil when the identity is not banned.
	GetBan(ctx context.Context, persistedID string) (*model.BanStatus, error)
	Clear(ctx context.Context, persistedID string) error
}

type BlockList interface {
	CanMatch(ctx context.Context, a, b string) (bool, error)
	RecordBlock(ctx context.Context, blocker, blocked string) error
}

// SkipHistory remembers recent skips across reconnects and instances.
type SkipHistory interface {
	RecordSkip(ctx context.Context, skipper, skipped string) error
	// Skipped reports whether either identity skipped the other recently.
	Skipped(ctx context.Context, a, b string) (bool, error)
}

type IdentityClaims interface {
	// Claim records persistedID and reports whether it was unseen.
	Claim(ctx context.Context, persistedID string) (bool, error)
}

type ReceiptVerifier interface {
	Verify(ctx context.Context, receipt []byte) error
}

type PushNotifier interface {
	Notify(ctx context.Context, deviceToken string, alert string) error
}

// Executor runs blocking calls on a bounded pool.
type Executor interface {
	Submit(task func(ctx context.Context)) bool
	Do(ctx context.Context, task func(ctx context.Context) error) error
}

// Registrar owns tokens. It is implemented by the governor.
type Registrar interface {
	TokenLive(token string) bool
	// ReserveToken registers s as waiting for its datagram endpoint under a
	// fresh token, or under reconnectToken when set. A reconnectToken that
	// is no longer live is refused in the same step. It assigns the token
	// to s before returning.
	ReserveToken(s *Session, reconnectToken string) bool
	// RetireToken gives up the token of s without a grace period.
	RetireToken(s *Session)
}

type Settings struct {
	ServerName                 string
	MinProtocolVersion         uint32
	AcceptExpiry               time.Duration
	RatingExpiry               time.Duration
	Inactivity                 time.Duration
	MatchQueryInterval         time.Duration
	DefaultRating              model.Rating
	MaxAcceptTimeouts          int
	ReputationMax              int
	RecentSkips                int
	RateUnstartedConversations bool
	CandidatePool              int
	StoreTimeout               time.Duration
}

// SettingsFromConfig assumes cfg passed Validate.
func SettingsFromConfig(cfg *config.Config) Settings {
	rating, _ := model.ParseRating(cfg.DefaultRating)
	return Settings{
		ServerName:                 cfg.ServerName,
		MinProtocolVersion:         cfg.MinProtocolVersion,
		AcceptExpiry:               cfg.AcceptMatchExpiry(),
		RatingExpiry:               cfg.RatingExpiry(),
		Inactivity:                 cfg.Inactivity(),
		MatchQueryInterval:         cfg.MatchQueryInterval(),
		DefaultRating:              rating,
		MaxAcceptTimeouts:          cfg.MaxAcceptTimeouts,
		ReputationMax:              cfg.ReputationMax,
		RecentSkips:                cfg.RecentSkips,
		RateUnstartedConversations: cfg.RateUnstartedConversations,
		CandidatePool:              config.MatchCandidatePool,
		StoreTimeout:               config.StoreQueryTimeout,
	}
}
