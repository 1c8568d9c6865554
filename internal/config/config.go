package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var validRatings = []string{"bad", "neutral", "good"}

type Config struct {
	TCPPort                    int    `env:"TCP_PORT" envDefault:"12241"`
	UDPPort                    int    `env:"UDP_PORT" envDefault:"12242"`
	HTTPPort                   int    `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	RedisURL                   string `env:"REDIS_URL,required"`
	SchemaDir                  string `env:"SCHEMA_DIR" envDefault:""`
	ServerName                 string `env:"SERVER_NAME" envDefault:"rendezvous"`
	LogLevel                   string `env:"LOG_LEVEL" envDefault:"info"`
	MinProtocolVersion         uint32 `env:"MIN_PROTOCOL_VERSION" envDefault:"3"`
	TokenCleanupSeconds        int    `env:"TOKEN_CLEANUP_SECONDS" envDefault:"20"`
	OfflineNotificationSeconds int    `env:"OFFLINE_NOTIFICATION_SECONDS" envDefault:"600"`
	AcceptMatchExpirySeconds   int    `env:"ACCEPT_MATCH_EXPIRY_SECONDS" envDefault:"15"`
	RatingExpirySeconds        int    `env:"RATING_EXPIRY_SECONDS" envDefault:"40"`
	DefaultRating              string `env:"DEFAULT_RATING" envDefault:"good"`
	MaxAcceptTimeouts          int    `env:"MAX_ACCEPT_TIMEOUTS" envDefault:"3"`
	InactivitySeconds          int    `env:"INACTIVITY_SECONDS" envDefault:"60"`
	MatchQueryIntervalSeconds  int    `env:"MATCH_QUERY_INTERVAL_SECONDS" envDefault:"2"`
	ReputationMax              int    `env:"REPUTATION_MAX" envDefault:"5"`
	ReputationExpirySeconds    int    `env:"REPUTATION_EXPIRY_SECONDS" envDefault:"3600"`
	BanTiers                   int    `env:"BAN_TIERS" envDefault:"3"`
	RecentSkips                int    `env:"RECENT_SKIPS" envDefault:"5"`
	SkipHistorySeconds         int    `env:"SKIP_HISTORY_SECONDS" envDefault:"300"`
	RateUnstartedConversations bool   `env:"RATE_UNSTARTED_CONVERSATIONS" envDefault:"false"`
	ReceiptURL                 string `env:"RECEIPT_URL" envDefault:"https://buy.itunes.apple.com/verifyReceipt"`
	ReceiptSandboxURL          string `env:"RECEIPT_SANDBOX_URL" envDefault:"https://sandbox.itunes.apple.com/verifyReceipt"`
	PushURL                    string `env:"PUSH_URL" envDefault:"https://api.development.push.apple.com:443"`
	PushTopic                  string `env:"PUSH_TOPIC" envDefault:""`
	MaxLiveRequests            int    `env:"MAX_LIVE_REQUESTS" envDefault:"32"`
	LogonRateLimitPerMin       int    `env:"LOGON_RATE_LIMIT_PER_MIN" envDefault:"30"`
}

func (c *Config) TCPAddr() string {
	return fmt.Sprintf(":%d", c.TCPPort)
}

func (c *Config) UDPAddr() string {
	return fmt.Sprintf(":%d", c.UDPPort)
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func (c *Config) TokenCleanupDelay() time.Duration {
	return time.Duration(c.TokenCleanupSeconds) * time.Second
}

func (c *Config) OfflineNotificationDelay() time.Duration {
	return time.Duration(c.OfflineNotificationSeconds) * time.Second
}

func (c *Config) AcceptMatchExpiry() time.Duration {
	return time.Duration(c.AcceptMatchExpirySeconds) * time.Second
}

func (c *Config) RatingExpiry() time.Duration {
	return time.Duration(c.RatingExpirySeconds) * time.Second
}

func (c *Config) Inactivity() time.Duration {
	return time.Duration(c.InactivitySeconds) * time.Second
}

func (c *Config) MatchQueryInterval() time.Duration {
	return time.Duration(c.MatchQueryIntervalSeconds) * time.Second
}

func (c *Config) ReputationExpiry() time.Duration {
	return time.Duration(c.ReputationExpirySeconds) * time.Second
}

func (c *Config) SkipHistory() time.Duration {
	return time.Duration(c.SkipHistorySeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.ReputationMax <= 0 || c.ReputationMax > 255 {
		return fmt.Errorf("REPUTATION_MAX must be between 1 and 255")
	}
	if c.BanTiers <= 0 {
		return fmt.Errorf("BAN_TIERS must be positive")
	}
	if c.MaxLiveRequests <= 0 {
		return fmt.Errorf("MAX_LIVE_REQUESTS must be positive")
	}

	rating := strings.ToLower(c.DefaultRating)
	valid := false
	for _, r := range validRatings {
		if rating == r {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("DEFAULT_RATING must be one of %s", strings.Join(validRatings, ", "))
	}

	if c.AcceptMatchExpirySeconds <= 0 || c.RatingExpirySeconds <= 0 || c.TokenCleanupSeconds <= 0 {
		return fmt.Errorf("expiry settings must be positive")
	}

	if c.PushTopic == "" {
		log.Warn().Msg("PUSH_TOPIC is empty: offline notifications will be rejected by the push service")
	}
	if strings.HasPrefix(c.RedisURL, "redis://") && !strings.Contains(c.RedisURL, "localhost") {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS): consider using rediss://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
