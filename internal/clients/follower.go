package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// FollowerClient resolves follower sets from the follower service, shielded
// by the resilience gateway and a short-lived cache. It never fails: on
// terminal errors the audience degrades to empty.
type FollowerClient struct {
	http    *http.Client
	baseURL string
	gw      *resilience.Gateway
	cache   cache
	log     zerolog.Logger
}

func NewFollowerClient(baseURL string, gw *resilience.Gateway, rdb *redis.Client, cacheTTL time.Duration) *FollowerClient {
	return &FollowerClient{
		http:    &http.Client{},
		baseURL: baseURL,
		gw:      gw,
		cache:   cache{rdb: rdb, ttl: cacheTTL},
		log:     logger.Logger.With().Str("component", "follower_client").Logger(),
	}
}

// FollowerIDs returns the author's follower ids, or an empty slice when the
// follower service is unavailable.
func (c *FollowerClient) FollowerIDs(ctx context.Context, authorID int64) []int64 {
	cacheKey := fmt.Sprintf("followers:%d", authorID)

	var ids []int64
	if c.cache.get(ctx, cacheKey, &ids) {
		return ids
	}

	err := c.gw.Call(ctx, "follower-service", func(ctx context.Context) error {
		url := fmt.Sprintf("%s/users/followers/%d", c.baseURL, authorID)
		return getJSON(ctx, c.http, url, &ids)
	}, func(cause error) error {
		c.log.Warn().Int64("author_id", authorID).Err(cause).Msg("follower lookup degraded to empty set")
		ids = nil
		return nil
	})
	if err != nil {
		// rate limited; same degradation
		return nil
	}

	if len(ids) > 0 {
		c.cache.set(ctx, cacheKey, ids)
	}
	return ids
}
