package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SkipHistory remembers who skipped whom for a while so that a skipped
// pair is not matched again right away, even after a reconnect or on
// another instance.
type SkipHistory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSkipHistory(client *redis.Client, ttl time.Duration) *SkipHistory {
	return &SkipHistory{client: client, ttl: ttl}
}

func SkipKey(skipper, skipped string) string {
	return fmt.Sprintf("skip:%s:%s", skipper, skipped)
}

func (h *SkipHistory) RecordSkip(ctx context.Context, skipper, skipped string) error {
	return h.client.Set(ctx, SkipKey(skipper, skipped), 1, h.ttl).Err()
}

// Skipped reports whether either identity skipped the other within the TTL.
func (h *SkipHistory) Skipped(ctx context.Context, a, b string) (bool, error) {
	n, err := h.client.Exists(ctx, SkipKey(a, b), SkipKey(b, a)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
