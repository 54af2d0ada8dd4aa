package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pawgrid/feed-service/internal/cursor"
	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/feed"
	"github.com/pawgrid/feed-service/internal/feedstore"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noSnapshots struct{}

func (noSnapshots) FetchSnapshots(context.Context, []int64) []domain.PostSnapshot { return nil }

type noBlocks struct{}

func (noBlocks) HasBlocked(context.Context, int64, int64) bool { return false }

type testEnv struct {
	server  *httptest.Server
	store   *feedstore.Store
	gateway *resilience.Gateway
	limiter *resilience.Limiter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := feedstore.New(client, 1000, 12*time.Hour, 24*time.Hour)
	reader := feed.NewReader(store, noSnapshots{}, noBlocks{}, cursor.NewCodec("test-secret", time.Hour), time.Hour)

	limiter := resilience.NewLimiter()
	gateway := resilience.NewGateway(resilience.DefaultGatewayConfig(), limiter)

	router := NewRouter(RouterDeps{
		Handler:  NewHandler(reader, gateway),
		Limiter:  limiter,
		IPLimit:  10000,
		IPWindow: time.Minute,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: store, gateway: gateway, limiter: limiter}
}

func (e *testEnv) get(t *testing.T, path string, viewerID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	require.NoError(t, err)
	if viewerID != "" {
		req.Header.Set("X-User-Id", viewerID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) seedFeed(t *testing.T, viewerID int64, count int) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	snaps := make([]domain.PostSnapshot, 0, count)
	for i := 0; i < count; i++ {
		id := int64(i + 1)
		ts := at.Add(time.Duration(i) * time.Second)
		require.NoError(t, e.store.FanOut(ctx, []int64{viewerID}, id, float64(ts.UnixMilli())))
		snaps = append(snaps, domain.PostSnapshot{
			PostID: id, AuthorID: 99, Username: "author",
			ContentText: fmt.Sprintf("post %d", id), CreatedAt: ts, UpdatedAt: ts,
		})
	}
	require.NoError(t, e.store.CacheSnapshots(ctx, snaps, time.Hour))
}

func decodeData(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestGetFeed_RequiresViewerHeader(t *testing.T) {
	env := newTestEnv(t)

	for _, viewer := range []string{"", "abc", "-5", "0"} {
		resp := env.get(t, "/api/v1/feed", viewer)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "viewer %q", viewer)
	}
}

func TestGetFeed_InvalidLimit(t *testing.T) {
	env := newTestEnv(t)

	for _, limit := range []string{"abc", "-1", "0"} {
		resp := env.get(t, "/api/v1/feed?limit="+limit, "1")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit %q", limit)
	}
}

func TestGetFeed_ReturnsPage(t *testing.T) {
	env := newTestEnv(t)
	env.seedFeed(t, 1, 30)

	resp := env.get(t, "/api/v1/feed?limit=10", "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page domain.FeedPage
	decodeData(t, resp, &page)
	assert.Len(t, page.Posts, 10)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, int64(30), page.Posts[0].PostID, "newest first")
}

func TestGetFeed_EmptyFeed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/feed", "7")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page domain.FeedPage
	decodeData(t, resp, &page)
	assert.Empty(t, page.Posts)
	assert.False(t, page.HasMore)
}

func TestGetFeed_PerUserRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.limiter.Configure(resilience.ClassUser, resilience.LimiterClass{
		Limit: 2, Window: time.Minute,
	})

	for i := 0; i < 2; i++ {
		resp := env.get(t, "/api/v1/feed", "1")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := env.get(t, "/api/v1/feed", "1")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// a different viewer has their own bucket
	resp = env.get(t, "/api/v1/feed", "2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResilienceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.ForceOpen("post-service")

	resp := env.get(t, "/api/v1/resilience/circuit-breakers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		CircuitBreakers map[string]resilience.BreakerSnapshot `json:"circuitBreakers"`
	}
	decodeData(t, resp, &status)
	require.Contains(t, status.CircuitBreakers, "post-service")
	assert.Equal(t, "OPEN", status.CircuitBreakers["post-service"].State)

	for _, path := range []string{"/api/v1/resilience/rate-limiters", "/api/v1/resilience/retries"} {
		resp := env.get(t, path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestForceBreakerOpenAndClose(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/resilience/circuit-breakers/user-service/open", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OPEN", env.gateway.Breakers()["user-service"].State)

	resp, err = http.Post(env.server.URL+"/api/v1/resilience/circuit-breakers/user-service/close", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CLOSED", env.gateway.Breakers()["user-service"].State)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/healthz", "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Request-Id"))
}
