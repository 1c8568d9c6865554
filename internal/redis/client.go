package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hologram-chat/rendezvous-server/internal/config"
)

// Client is the connection shared by the skip history and the logon
// limiter.
type Client struct {
	*redis.Client
}

// NewClient connects to redisURL. Dial, read and write timeouts default
// to config.StoreQueryTimeout unless the URL sets them.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	applyTimeouts(opts)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{client}, nil
}

func applyTimeouts(opts *redis.Options) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = config.StoreQueryTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = config.StoreQueryTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = config.StoreQueryTimeout
	}
}

func (c *Client) Close() error {
	return c.Client.Close()
}
