package feedstore

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, maxSize int64) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, maxSize, 12*time.Hour, 24*time.Hour), mr
}

func TestClaimDistribution(t *testing.T) {
	s, mr := setupStore(t, 1000)
	ctx := context.Background()

	first, err := s.ClaimDistribution(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.ClaimDistribution(ctx, 42)
	require.NoError(t, err)
	assert.False(t, second, "second claim must detect the duplicate")

	// marker expires naturally
	mr.FastForward(13 * time.Hour)
	again, err := s.ClaimDistribution(ctx, 42)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestFanOut_WritesAllRecipients(t *testing.T) {
	s, _ := setupStore(t, 1000)
	ctx := context.Background()

	require.NoError(t, s.FanOut(ctx, []int64{1, 2, 3}, 99, 1700000000000))

	for _, uid := range []int64{1, 2, 3} {
		ids, err := s.Page(ctx, uid, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{99}, ids)
	}
}

func TestFanOut_BoundsFeedToMaxSize(t *testing.T) {
	s, _ := setupStore(t, 10)
	ctx := context.Background()

	// 15 fan-outs to the same recipient with ascending scores
	for i := int64(1); i <= 15; i++ {
		require.NoError(t, s.FanOut(ctx, []int64{7}, i, float64(i)))
	}

	size, err := s.Size(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	// retained entries are the highest-scoring ones
	ids, err := s.Page(ctx, 7, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6}, ids)
}

func TestPage_Order(t *testing.T) {
	s, _ := setupStore(t, 1000)
	ctx := context.Background()

	require.NoError(t, s.FanOut(ctx, []int64{1}, 10, 100))
	require.NoError(t, s.FanOut(ctx, []int64{1}, 11, 300))
	require.NoError(t, s.FanOut(ctx, []int64{1}, 12, 200))

	ids, err := s.Page(ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12, 10}, ids)

	// offset paging
	ids, err = s.Page(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 10}, ids)
}

func TestResumeIndex(t *testing.T) {
	s, _ := setupStore(t, 1000)
	ctx := context.Background()

	require.NoError(t, s.FanOut(ctx, []int64{1}, 10, 100))
	require.NoError(t, s.FanOut(ctx, []int64{1}, 11, 300))
	require.NoError(t, s.FanOut(ctx, []int64{1}, 12, 200))

	idx, err := s.ResumeIndex(ctx, 1, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx)

	// unknown post (e.g. trimmed off) restarts from the top
	idx, err = s.ResumeIndex(ctx, 1, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), idx)
}

func TestSnapshots(t *testing.T) {
	s, mr := setupStore(t, 1000)
	ctx := context.Background()

	snap := domain.PostSnapshot{PostID: 5, AuthorID: 2, Username: "ada", ContentText: "hello"}
	raw, _ := json.Marshal(snap)
	mr.Set("post:snapshot:5", string(raw))

	found, missing, err := s.Snapshots(ctx, []int64{5, 6})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "ada", found[5].Username)
	assert.Equal(t, []int64{6}, missing)
}

func TestCacheSnapshots_Backfill(t *testing.T) {
	s, _ := setupStore(t, 1000)
	ctx := context.Background()

	snaps := []domain.PostSnapshot{{PostID: 8, AuthorID: 3, Username: "bo"}}
	require.NoError(t, s.CacheSnapshots(ctx, snaps, time.Minute))

	found, missing, err := s.Snapshots(ctx, []int64{8})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, "bo", found[8].Username)
}

func TestDeletedMarker(t *testing.T) {
	s, _ := setupStore(t, 1000)
	ctx := context.Background()

	assert.False(t, s.IsDeleted(ctx, 42))
	require.NoError(t, s.MarkDeleted(ctx, 42))
	assert.True(t, s.IsDeleted(ctx, 42))
}

func TestLiveMetrics(t *testing.T) {
	s, mr := setupStore(t, 1000)
	ctx := context.Background()

	mr.HSet("post_stats:5", "likes", "12", "comments", "3")

	m, err := s.LiveMetrics(ctx, []int64{5, 6})
	require.NoError(t, err)
	assert.Equal(t, int64(12), m[5].Likes)
	assert.Equal(t, int64(3), m[5].Comments)
	assert.Equal(t, int64(0), m[6].Likes)
}

func TestViewerLikes(t *testing.T) {
	s, mr := setupStore(t, 1000)
	ctx := context.Background()

	mr.SetAdd("like:users:5", strconv.FormatInt(9, 10))

	likes, err := s.ViewerLikes(ctx, 9, []int64{5, 6})
	require.NoError(t, err)
	assert.True(t, likes[5])
	assert.False(t, likes[6])
}
