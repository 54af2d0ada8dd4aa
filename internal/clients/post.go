package clients

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/pawgrid/feed-service/internal/resilience"
	"github.com/rs/zerolog"
)

// PostClient backfills post snapshots the shared cache does not hold.
type PostClient struct {
	http    *http.Client
	baseURL string
	gw      *resilience.Gateway
	log     zerolog.Logger
}

func NewPostClient(baseURL string, gw *resilience.Gateway) *PostClient {
	return &PostClient{
		http:    &http.Client{},
		baseURL: baseURL,
		gw:      gw,
		log:     logger.Logger.With().Str("component", "post_client").Logger(),
	}
}

// FetchSnapshots loads snapshots for the given post ids, or an empty slice
// when the post service is unavailable (the affected entries are simply
// skipped for this page).
func (c *PostClient) FetchSnapshots(ctx context.Context, postIDs []int64) []domain.PostSnapshot {
	if len(postIDs) == 0 {
		return nil
	}

	parts := make([]string, len(postIDs))
	for i, id := range postIDs {
		parts[i] = strconv.FormatInt(id, 10)
	}

	var snaps []domain.PostSnapshot
	err := c.gw.Call(ctx, "post-service", func(ctx context.Context) error {
		u := fmt.Sprintf("%s/posts?ids=%s", c.baseURL, strings.Join(parts, ","))
		return getJSON(ctx, c.http, u, &snaps)
	}, func(cause error) error {
		c.log.Warn().Int("count", len(postIDs)).Err(cause).Msg("snapshot backfill degraded to empty")
		snaps = nil
		return nil
	})
	if err != nil {
		return nil
	}
	return snaps
}
