package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// Admin HTTP server timeouts
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Store calls made while matching
const StoreQueryTimeout = 3 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Stream transport limits
const (
	MaxFrameSize       = 8 * 1024 * 1024
	StreamSendQueueLen = 256
	MaxDatagramSize    = 64 * 1024
)

// Matching
const (
	// MatchCandidatePool is how many nearest waiting records are considered
	// before one is picked at random.
	MatchCandidatePool = 20

	// MaxInconsistencyRetries bounds the purge-and-retry loop when the store
	// references waiting keys this instance does not know.
	MaxInconsistencyRetries = 16

	ShortNameMaxLen = 50
)

// External HTTP calls
const (
	ReceiptTimeout   = 10 * time.Second
	PushTimeout      = 10 * time.Second
	PushAttempts     = 5
	PushRetryBackoff = 100 * time.Millisecond
	LogonRateWindow  = 60 * time.Second
)
