package audience

import (
	"context"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/rs/zerolog"
)

// geohashPrecision of 7 characters is a cell of roughly 150m, the proximity
// band rescue posts are relevant within.
const geohashPrecision = 7

// FollowerSource yields the follower set of an author, empty on failure.
type FollowerSource interface {
	FollowerIDs(ctx context.Context, authorID int64) []int64
}

// UserDirectory resolves mentions and geo proximity, degrading on failure.
type UserDirectory interface {
	UserIDByUsername(ctx context.Context, username string) (int64, bool)
	UsersNearGeohash(ctx context.Context, geohash string) []int64
}

// Resolver computes the fan-out target set for a post. Its stages (followers,
// mentions, geo, self) are failure-isolated: any one degrading to empty never
// blocks the others, and Resolve never fails.
type Resolver struct {
	followers FollowerSource
	users     UserDirectory
	log       zerolog.Logger
}

func NewResolver(followers FollowerSource, users UserDirectory) *Resolver {
	return &Resolver{
		followers: followers,
		users:     users,
		log:       logger.Logger.With().Str("component", "audience_resolver").Logger(),
	}
}

// Resolve returns the union of followers, mentioned users, geo-proximate
// users and the author. Duplicates collapse; order is unspecified.
func (r *Resolver) Resolve(ctx context.Context, ev domain.PostCreatedEvent) []int64 {
	set := make(map[int64]struct{})

	for _, id := range r.followers.FollowerIDs(ctx, ev.UserID) {
		set[id] = struct{}{}
	}

	for _, mention := range ev.Mentions {
		username := strings.TrimPrefix(strings.TrimSpace(mention), "@")
		if username == "" {
			continue
		}
		if id, ok := r.users.UserIDByUsername(ctx, username); ok {
			set[id] = struct{}{}
		}
	}

	if ev.Latitude != nil && ev.Longitude != nil {
		gh := geohash.EncodeWithPrecision(*ev.Latitude, *ev.Longitude, geohashPrecision)
		for _, id := range r.users.UsersNearGeohash(ctx, gh) {
			set[id] = struct{}{}
		}
	}

	// self-feed visibility
	set[ev.UserID] = struct{}{}

	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}

	r.log.Debug().Int64("post_id", ev.PostID).Int("audience", len(out)).Msg("audience resolved")
	return out
}
