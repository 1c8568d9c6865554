package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DatabaseURL:              "postgres://localhost/test",
		RedisURL:                 "redis://localhost:6379",
		DefaultRating:            "good",
		ReputationMax:            5,
		BanTiers:                 3,
		MaxLiveRequests:          32,
		AcceptMatchExpirySeconds: 15,
		RatingExpirySeconds:      40,
		TokenCleanupSeconds:      20,
		PushTopic:                "chat.hologram",
	}
}

func TestConfigMethods(t *testing.T) {
	t.Run("addresses use configured ports", func(t *testing.T) {
		cfg := &Config{TCPPort: 3000, UDPPort: 3001, HTTPPort: 3002}
		assert.Equal(t, ":3000", cfg.TCPAddr())
		assert.Equal(t, ":3001", cfg.UDPAddr())
		assert.Equal(t, ":3002", cfg.HTTPAddr())
	})

	t.Run("durations convert seconds", func(t *testing.T) {
		cfg := &Config{
			TokenCleanupSeconds:       20,
			AcceptMatchExpirySeconds:  15,
			RatingExpirySeconds:       40,
			MatchQueryIntervalSeconds: 2,
			SkipHistorySeconds:        300,
		}
		assert.Equal(t, 20*time.Second, cfg.TokenCleanupDelay())
		assert.Equal(t, 15*time.Second, cfg.AcceptMatchExpiry())
		assert.Equal(t, 40*time.Second, cfg.RatingExpiry())
		assert.Equal(t, 2*time.Second, cfg.MatchQueryInterval())
		assert.Equal(t, 5*time.Minute, cfg.SkipHistory())
	})
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("rejects unknown default rating", func(t *testing.T) {
		cfg := validConfig()
		cfg.DefaultRating = "excellent"
		assert.Error(t, cfg.Validate())
	})

	t.Run("default rating is case insensitive", func(t *testing.T) {
		cfg := validConfig()
		cfg.DefaultRating = "Neutral"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects zero reputation maximum", func(t *testing.T) {
		cfg := validConfig()
		cfg.ReputationMax = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive expiry", func(t *testing.T) {
		cfg := validConfig()
		cfg.RatingExpirySeconds = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	keys := []string{
		"TCP_PORT", "UDP_PORT", "DATABASE_URL", "REDIS_URL",
		"MIN_PROTOCOL_VERSION", "TOKEN_CLEANUP_SECONDS", "LOG_LEVEL", "SCHEMA_DIR",
	}
	originalEnv := make(map[string]string, len(keys))
	for _, k := range keys {
		originalEnv[k] = os.Getenv(k)
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("TCP_PORT")
		os.Unsetenv("UDP_PORT")
		os.Unsetenv("MIN_PROTOCOL_VERSION")
		os.Unsetenv("TOKEN_CLEANUP_SECONDS")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("SCHEMA_DIR")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 12241, cfg.TCPPort)
		assert.Equal(t, 12242, cfg.UDPPort)
		assert.Equal(t, uint32(3), cfg.MinProtocolVersion)
		assert.Equal(t, 20, cfg.TokenCleanupSeconds)
		assert.Equal(t, 5, cfg.ReputationMax)
		assert.Equal(t, "good", cfg.DefaultRating)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Empty(t, cfg.SchemaDir)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("TCP_PORT", "4000")
		os.Setenv("MIN_PROTOCOL_VERSION", "7")
		os.Setenv("LOG_LEVEL", "debug")
		os.Setenv("SCHEMA_DIR", "/srv/rendezvous/migrations")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "/srv/rendezvous/migrations", cfg.SchemaDir)

		assert.Equal(t, 4000, cfg.TCPPort)
		assert.Equal(t, uint32(7), cfg.MinProtocolVersion)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required DATABASE_URL", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("fails without required REDIS_URL", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Unsetenv("REDIS_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
