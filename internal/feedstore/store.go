package feedstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	feedKeyPrefix     = "feed:"
	markerKeyPrefix   = "post_distributed:"
	snapshotKeyPrefix = "post:snapshot:"
	deletedKeyPrefix  = "post_deleted:"
	statsKeyPrefix    = "post_stats:"
	likeUsersPrefix   = "like:users:"
)

// Store owns the per-recipient bounded feed structures plus the cached post
// material the read path consumes. It is a recency-biased cache, not a system
// of record.
type Store struct {
	Client *redis.Client

	maxSize    int64
	markerTTL  time.Duration
	deletedTTL time.Duration
}

func New(client *redis.Client, maxSize int64, markerTTL, deletedTTL time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if markerTTL <= 0 {
		markerTTL = 12 * time.Hour
	}
	if deletedTTL <= 0 {
		deletedTTL = 7 * 24 * time.Hour
	}
	return &Store{Client: client, maxSize: maxSize, markerTTL: markerTTL, deletedTTL: deletedTTL}
}

func feedKey(userID int64) string {
	return feedKeyPrefix + strconv.FormatInt(userID, 10)
}

// ClaimDistribution atomically claims the idempotency marker for a post.
// Returns false when the marker already existed (duplicate event).
func (s *Store) ClaimDistribution(ctx context.Context, postID int64) (bool, error) {
	key := markerKeyPrefix + strconv.FormatInt(postID, 10)
	return s.Client.SetNX(ctx, key, "1", s.markerTTL).Result()
}

// FanOut writes one post into every recipient's feed and trims each feed to
// the bound, in a single pipeline so a reader never observes a half-written
// entry for a recipient.
func (s *Store) FanOut(ctx context.Context, recipients []int64, postID int64, score float64) error {
	if len(recipients) == 0 {
		return nil
	}

	member := strconv.FormatInt(postID, 10)
	pipe := s.Client.Pipeline()
	for _, recipient := range recipients {
		key := feedKey(recipient)
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		pipe.ZRemRangeByRank(ctx, key, 0, -(s.maxSize + 1))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Page returns up to limit post ids from a user's feed, highest score first,
// starting at the given index.
func (s *Store) Page(ctx context.Context, userID, start, limit int64) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := s.Client.ZRevRange(ctx, feedKey(userID), start, start+limit-1).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ResumeIndex locates where to continue after the given post. Missing posts
// (trimmed off the window) restart from the top.
func (s *Store) ResumeIndex(ctx context.Context, userID, postID int64) (int64, error) {
	rank, err := s.Client.ZRevRank(ctx, feedKey(userID), strconv.FormatInt(postID, 10)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return rank + 1, nil
}

// Size reports the current entry count of a user's feed.
func (s *Store) Size(ctx context.Context, userID int64) (int64, error) {
	return s.Client.ZCard(ctx, feedKey(userID)).Result()
}

// Snapshots multi-gets cached post snapshots. The second return value lists
// ids with no cached copy.
func (s *Store) Snapshots(ctx context.Context, postIDs []int64) (map[int64]domain.PostSnapshot, []int64, error) {
	if len(postIDs) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, len(postIDs))
	for i, id := range postIDs {
		keys[i] = snapshotKeyPrefix + strconv.FormatInt(id, 10)
	}

	vals, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, postIDs, err
	}

	found := make(map[int64]domain.PostSnapshot, len(postIDs))
	var missing []int64
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, postIDs[i])
			continue
		}
		var snap domain.PostSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			missing = append(missing, postIDs[i])
			continue
		}
		found[postIDs[i]] = snap
	}
	return found, missing, nil
}

// CacheSnapshots backfills snapshot cache entries fetched from the post
// service. Best effort.
func (s *Store) CacheSnapshots(ctx context.Context, snaps []domain.PostSnapshot, ttl time.Duration) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := s.Client.Pipeline()
	for _, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		pipe.Set(ctx, snapshotKeyPrefix+strconv.FormatInt(snap.PostID, 10), raw, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// MarkDeleted flags a post as deleted; the read path filters it, feeds are
// not rewritten.
func (s *Store) MarkDeleted(ctx context.Context, postID int64) error {
	return s.Client.Set(ctx, deletedKeyPrefix+strconv.FormatInt(postID, 10), "1", s.deletedTTL).Err()
}

// IsDeleted reports whether a post carries the deleted flag. Errors degrade
// to "not deleted" so a cache hiccup does not blank the feed.
func (s *Store) IsDeleted(ctx context.Context, postID int64) bool {
	n, err := s.Client.Exists(ctx, deletedKeyPrefix+strconv.FormatInt(postID, 10)).Result()
	return err == nil && n > 0
}

// LiveMetrics batch-reads the like/comment counters kept by the interaction
// service.
func (s *Store) LiveMetrics(ctx context.Context, postIDs []int64) (map[int64]domain.LiveMetrics, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	pipe := s.Client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(postIDs))
	for i, id := range postIDs {
		cmds[i] = pipe.HMGet(ctx, statsKeyPrefix+strconv.FormatInt(id, 10), "likes", "comments")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[int64]domain.LiveMetrics, len(postIDs))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) != 2 {
			continue
		}
		out[postIDs[i]] = domain.LiveMetrics{
			Likes:    parseCounter(vals[0]),
			Comments: parseCounter(vals[1]),
		}
	}
	return out, nil
}

// ViewerLikes reports which of the given posts the viewer has liked.
func (s *Store) ViewerLikes(ctx context.Context, viewerID int64, postIDs []int64) (map[int64]bool, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	member := strconv.FormatInt(viewerID, 10)
	pipe := s.Client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(postIDs))
	for i, id := range postIDs {
		cmds[i] = pipe.SIsMember(ctx, likeUsersPrefix+strconv.FormatInt(id, 10), member)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make(map[int64]bool, len(postIDs))
	for i, cmd := range cmds {
		liked, err := cmd.Result()
		if err != nil {
			continue
		}
		out[postIDs[i]] = liked
	}
	return out, nil
}

func parseCounter(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
