package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastGateway() *resilience.Gateway {
	cfg := resilience.DefaultGatewayConfig()
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return resilience.NewGateway(cfg, resilience.NewLimiter())
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestFollowerIDs_FetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/users/followers/7", r.URL.Path)
		fmt.Fprint(w, `[2,3,5]`)
	}))
	defer srv.Close()

	c := NewFollowerClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	ctx := context.Background()

	assert.Equal(t, []int64{2, 3, 5}, c.FollowerIDs(ctx, 7))
	assert.Equal(t, []int64{2, 3, 5}, c.FollowerIDs(ctx, 7))
	assert.Equal(t, int32(1), hits.Load(), "second lookup must be served from cache")
}

func TestFollowerIDs_DegradesToEmptyOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewFollowerClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	assert.Empty(t, c.FollowerIDs(context.Background(), 7))
}

func TestUserIDByUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/username/alice":
			fmt.Fprint(w, `42`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	ctx := context.Background()

	id, ok := c.UserIDByUsername(ctx, "alice")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = c.UserIDByUsername(ctx, "nobody")
	assert.False(t, ok)
}

func TestHasBlocked_CachesResult(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/users/1/blocked/2", r.URL.Path)
		fmt.Fprint(w, `true`)
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	ctx := context.Background()

	assert.True(t, c.HasBlocked(ctx, 1, 2))
	assert.True(t, c.HasBlocked(ctx, 1, 2))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHasBlocked_DegradedResultIsNotCached(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `true`)
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	ctx := context.Background()

	// user service down: degrade to false, but do not remember it
	assert.False(t, c.HasBlocked(ctx, 1, 2))

	down.Store(false)
	assert.True(t, c.HasBlocked(ctx, 1, 2), "recovered answer must not be masked by a cached fallback")
}

func TestHasBlocked_UnknownMeansFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	assert.False(t, c.HasBlocked(context.Background(), 1, 2))
}

func TestFetchSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10,11", r.URL.Query().Get("ids"))
		fmt.Fprint(w, `[{"postId":10,"userId":1,"username":"u"},{"postId":11,"userId":2,"username":"v"}]`)
	}))
	defer srv.Close()

	c := NewPostClient(srv.URL, fastGateway())
	snaps := c.FetchSnapshots(context.Background(), []int64{10, 11})
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(10), snaps[0].PostID)

	assert.Nil(t, c.FetchSnapshots(context.Background(), nil))
}

func TestUsersNearGeohash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/near/r3gx2f9", r.URL.Path)
		fmt.Fprint(w, `[8,9]`)
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, fastGateway(), testRedis(t), time.Minute)
	assert.Equal(t, []int64{8, 9}, c.UsersNearGeohash(context.Background(), "r3gx2f9"))
}
