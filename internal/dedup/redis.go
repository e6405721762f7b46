package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces fingerprint keys in Redis.
const DefaultKeyPrefix = "signalos:fp:"

// Redis shares fingerprints between replicas through Redis string keys with
// an expiry.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Redis-backed cache. A non-positive ttl takes DefaultTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: DefaultKeyPrefix, ttl: ttl}
}

// Seen returns the event ID stored for fp.
func (r *Redis) Seen(ctx context.Context, fp string) (string, bool, error) {
	id, err := r.client.Get(ctx, r.prefix+fp).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get fingerprint: %w", err)
	}
	return id, true, nil
}

// Mark stores fp -> id unless fp is already present.
func (r *Redis) Mark(ctx context.Context, fp, id string) error {
	if err := r.client.SetNX(ctx, r.prefix+fp, id, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set fingerprint: %w", err)
	}
	return nil
}
