package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// UserClient covers the user-service lookups the feed paths depend on:
// username resolution, geohash proximity and block checks. Every remote call
// goes through the resilience gateway; every failure degrades instead of
// propagating.
type UserClient struct {
	http       *http.Client
	baseURL    string
	gw         *resilience.Gateway
	idCache    cache
	blockCache cache
	log        zerolog.Logger
}

func NewUserClient(baseURL string, gw *resilience.Gateway, rdb *redis.Client, blockTTL time.Duration) *UserClient {
	return &UserClient{
		http:       &http.Client{},
		baseURL:    baseURL,
		gw:         gw,
		idCache:    cache{rdb: rdb, ttl: 10 * time.Minute},
		blockCache: cache{rdb: rdb, ttl: blockTTL},
		log:        logger.Logger.With().Str("component", "user_client").Logger(),
	}
}

// UserIDByUsername resolves a mention to a user id. Returns false when the
// username is unknown or the user service is unavailable.
func (c *UserClient) UserIDByUsername(ctx context.Context, username string) (int64, bool) {
	cacheKey := "username:" + username

	var id int64
	if c.idCache.get(ctx, cacheKey, &id) {
		return id, id > 0
	}

	err := c.gw.Call(ctx, "user-service", func(ctx context.Context) error {
		u := fmt.Sprintf("%s/users/username/%s", c.baseURL, url.PathEscape(username))
		return getJSON(ctx, c.http, u, &id)
	}, func(cause error) error {
		c.log.Warn().Str("username", username).Err(cause).Msg("mention resolution degraded")
		id = 0
		return nil
	})
	if err != nil {
		return 0, false
	}

	if id > 0 {
		c.idCache.set(ctx, cacheKey, id)
	}
	return id, id > 0
}

// UsersNearGeohash returns user ids registered near the given geohash, or
// empty on failure.
func (c *UserClient) UsersNearGeohash(ctx context.Context, geohash string) []int64 {
	var ids []int64
	err := c.gw.Call(ctx, "user-service", func(ctx context.Context) error {
		u := fmt.Sprintf("%s/users/near/%s", c.baseURL, url.PathEscape(geohash))
		return getJSON(ctx, c.http, u, &ids)
	}, func(cause error) error {
		c.log.Warn().Str("geohash", geohash).Err(cause).Msg("geo lookup degraded to empty set")
		ids = nil
		return nil
	})
	if err != nil {
		return nil
	}
	return ids
}

// HasBlocked reports whether viewer blocked author. Unknown means false:
// an unavailable user service must not blank whole feeds.
func (c *UserClient) HasBlocked(ctx context.Context, viewerID, authorID int64) bool {
	cacheKey := fmt.Sprintf("block:%d:%d", viewerID, authorID)

	var blocked bool
	if c.blockCache.get(ctx, cacheKey, &blocked) {
		return blocked
	}

	degraded := false
	err := c.gw.Call(ctx, "user-service", func(ctx context.Context) error {
		u := fmt.Sprintf("%s/users/%d/blocked/%d", c.baseURL, viewerID, authorID)
		return getJSON(ctx, c.http, u, &blocked)
	}, func(cause error) error {
		c.log.Warn().Int64("viewer_id", viewerID).Int64("author_id", authorID).Err(cause).Msg("block check degraded to false")
		blocked = false
		degraded = true
		return nil
	})
	if err != nil {
		return false
	}

	// only fetched answers go in the cache; a degraded false must not mask a
	// real block for the whole TTL
	if !degraded {
		c.blockCache.set(ctx, cacheKey, blocked)
	}
	return blocked
}
