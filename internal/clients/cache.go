package clients

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// cache is the single cache-or-fetch helper shared by every collaborator
// client, so TTL and fallback policy live in one place instead of being
// duplicated per call site.
type cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// get returns (true, nil) and fills dest on a hit. Read failures are treated
// as misses.
func (c *cache) get(ctx context.Context, key string, dest any) bool {
	if c.rdb == nil {
		return false
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, dest) == nil
}

// set stores val best-effort; a write failure only costs a future cache miss.
func (c *cache) set(ctx context.Context, key string, val any) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
}
