package feed

import (
	"context"
	"time"

	"github.com/pawgrid/feed-service/internal/cursor"
	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/feedstore"
	"github.com/pawgrid/feed-service/internal/metrics"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/rs/zerolog"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// SnapshotSource backfills post snapshots missing from the cache.
type SnapshotSource interface {
	FetchSnapshots(ctx context.Context, postIDs []int64) []domain.PostSnapshot
}

// BlockChecker answers whether one user has blocked another.
type BlockChecker interface {
	HasBlocked(ctx context.Context, viewerID, authorID int64) bool
}

// Reader assembles paginated, enriched feed pages from the precomputed
// per-user feed index.
type Reader struct {
	store       *feedstore.Store
	posts       SnapshotSource
	blocks      BlockChecker
	cursors     *cursor.Codec
	snapshotTTL time.Duration
	log         zerolog.Logger
}

func NewReader(store *feedstore.Store, posts SnapshotSource, blocks BlockChecker, cursors *cursor.Codec, snapshotTTL time.Duration) *Reader {
	return &Reader{
		store:       store,
		posts:       posts,
		blocks:      blocks,
		cursors:     cursors,
		snapshotTTL: snapshotTTL,
		log:         logger.Logger.With().Str("component", "feed_reader").Logger(),
	}
}

// Read returns one page of the viewer's feed. An invalid, tampered or expired
// cursor silently restarts from the top; it is never an error to the caller.
func (r *Reader) Read(ctx context.Context, viewerID int64, rawCursor string, limit int) (domain.FeedPage, error) {
	start := time.Now()
	defer func() { metrics.RecordFeedRead(time.Since(start)) }()

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset, err := r.resumeOffset(ctx, viewerID, rawCursor)
	if err != nil {
		return domain.FeedPage{}, err
	}

	ids, err := r.store.Page(ctx, viewerID, offset, int64(limit))
	if err != nil {
		return domain.FeedPage{}, err
	}
	if len(ids) == 0 {
		return domain.FeedPage{Posts: []domain.FeedPost{}}, nil
	}

	snaps, err := r.snapshots(ctx, ids)
	if err != nil {
		return domain.FeedPage{}, err
	}

	visible := r.filter(ctx, viewerID, ids, snaps)
	posts := r.enrich(ctx, viewerID, visible, snaps)

	// hasMore is a heuristic over the returned count, after filtering; the
	// next cursor always points past the last raw entry so a client can keep
	// paging regardless
	page := domain.FeedPage{Posts: posts, HasMore: len(posts) == limit}
	last := ids[len(ids)-1]
	token, err := r.cursors.Sign(cursor.Data{
		Timestamp: cursorTimestamp(snaps, last),
		PostID:    last,
		Offset:    int(offset) + len(ids),
	})
	if err != nil {
		return domain.FeedPage{}, err
	}
	page.NextCursor = token
	return page, nil
}

// resumeOffset locates the position after the cursor's post. When the post
// has been evicted from the bounded feed, pagination restarts from the top.
func (r *Reader) resumeOffset(ctx context.Context, viewerID int64, rawCursor string) (int64, error) {
	if rawCursor == "" {
		return 0, nil
	}
	d := r.cursors.Verify(rawCursor)
	if d == nil {
		r.log.Debug().Int64("viewer_id", viewerID).Msg("invalid cursor, restarting from top")
		return 0, nil
	}

	return r.store.ResumeIndex(ctx, viewerID, d.PostID)
}

func (r *Reader) snapshots(ctx context.Context, ids []int64) (map[int64]domain.PostSnapshot, error) {
	snaps, missing, err := r.store.Snapshots(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return snaps, nil
	}

	fetched := r.posts.FetchSnapshots(ctx, missing)
	if len(fetched) > 0 {
		if err := r.store.CacheSnapshots(ctx, fetched, r.snapshotTTL); err != nil {
			r.log.Warn().Err(err).Msg("snapshot backfill cache write failed")
		}
		for _, s := range fetched {
			snaps[s.PostID] = s
		}
	}
	return snaps, nil
}

// filter drops tombstoned posts, posts with no resolvable snapshot, and posts
// where a block exists in either direction between viewer and author.
func (r *Reader) filter(ctx context.Context, viewerID int64, ids []int64, snaps map[int64]domain.PostSnapshot) []int64 {
	visible := make([]int64, 0, len(ids))
	for _, id := range ids {
		snap, ok := snaps[id]
		if !ok || snap.Deleted {
			continue
		}
		if r.store.IsDeleted(ctx, id) {
			continue
		}
		if viewerID != snap.AuthorID &&
			(r.blocks.HasBlocked(ctx, viewerID, snap.AuthorID) || r.blocks.HasBlocked(ctx, snap.AuthorID, viewerID)) {
			continue
		}
		visible = append(visible, id)
	}
	return visible
}

func (r *Reader) enrich(ctx context.Context, viewerID int64, ids []int64, snaps map[int64]domain.PostSnapshot) []domain.FeedPost {
	posts := make([]domain.FeedPost, 0, len(ids))
	if len(ids) == 0 {
		return posts
	}

	// engagement counters and the viewer's own likes are best effort: a
	// degraded counter store must not take the feed down with it
	live, err := r.store.LiveMetrics(ctx, ids)
	if err != nil {
		r.log.Warn().Err(err).Msg("live metrics unavailable")
		live = map[int64]domain.LiveMetrics{}
	}
	liked, err := r.store.ViewerLikes(ctx, viewerID, ids)
	if err != nil {
		r.log.Warn().Err(err).Msg("viewer likes unavailable")
		liked = map[int64]bool{}
	}

	for _, id := range ids {
		snap := snaps[id]
		m := live[id]
		posts = append(posts, domain.FeedPost{
			PostID:       snap.PostID,
			AuthorID:     snap.AuthorID,
			Username:     snap.Username,
			ContentText:  snap.ContentText,
			MediaUrls:    snap.MediaUrls,
			MediaType:    snap.MediaType,
			LikeCount:    m.Likes,
			CommentCount: m.Comments,
			ViewerLiked:  liked[id],
			CreatedAt:    snap.CreatedAt,
			UpdatedAt:    snap.UpdatedAt,
		})
	}
	return posts
}

func cursorTimestamp(snaps map[int64]domain.PostSnapshot, postID int64) int64 {
	if snap, ok := snaps[postID]; ok && !snap.CreatedAt.IsZero() {
		return snap.CreatedAt.UnixMilli()
	}
	return time.Now().UnixMilli()
}
