package fanout

import (
	"context"
	"time"

	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/feedstore"
	"github.com/pawgrid/feed-service/internal/metrics"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/rs/zerolog"
)

// processTimeout caps one fan-out end to end, collaborator lookups included.
const processTimeout = 30 * time.Second

// AudienceResolver computes the recipient set for a post; never fails.
type AudienceResolver interface {
	Resolve(ctx context.Context, ev domain.PostCreatedEvent) []int64
}

// DeadLetterPublisher escalates unrecoverable fan-out failures for later
// inspection and replay.
type DeadLetterPublisher interface {
	PublishFailedEvent(ctx context.Context, ev domain.PostCreatedEvent, retryCount int, errMsg string) error
}

// Distributor consumes post-created events and fans them out into recipient
// feed stores, off the message-consumption goroutine.
type Distributor struct {
	store    *feedstore.Store
	audience AudienceResolver
	dlq      DeadLetterPublisher
	pool     *Pool
	log      zerolog.Logger
}

func NewDistributor(store *feedstore.Store, audience AudienceResolver, dlq DeadLetterPublisher, workers, queueSize int) *Distributor {
	return &Distributor{
		store:    store,
		audience: audience,
		dlq:      dlq,
		pool:     NewPool(workers, queueSize),
		log:      logger.Logger.With().Str("component", "fanout_distributor").Logger(),
	}
}

// Submit hands an event to the worker pool and returns immediately (or runs
// it inline under saturation).
func (d *Distributor) Submit(ev domain.PostCreatedEvent) {
	d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		d.Process(ctx, ev)
	})
}

// Process performs one fan-out. Duplicate and non-distributable events are
// silent no-ops; unrecoverable failures go to the dead-letter path, never
// silently dropped.
func (d *Distributor) Process(ctx context.Context, ev domain.PostCreatedEvent) {
	start := time.Now()
	log := d.log.With().Int64("post_id", ev.PostID).Int64("author_id", ev.UserID).Logger()

	if !ev.Distributable() {
		log.Info().Str("visibility", string(ev.MediaVisibility)).Msg("post not distributable, skipping fan-out")
		metrics.RecordFanout("skipped", 0, time.Since(start))
		return
	}

	first, err := d.store.ClaimDistribution(ctx, ev.PostID)
	if err != nil {
		d.escalate(ctx, ev, err)
		metrics.RecordFanout("failed", 0, time.Since(start))
		return
	}
	if !first {
		log.Info().Msg("post already distributed, ignoring duplicate event")
		metrics.RecordDuplicateEvent()
		return
	}

	recipients := d.audience.Resolve(ctx, ev)
	if len(recipients) == 0 {
		log.Debug().Msg("empty audience, nothing to distribute")
		metrics.RecordFanout("empty", 0, time.Since(start))
		return
	}

	if err := d.store.FanOut(ctx, recipients, ev.PostID, ev.Score()); err != nil {
		d.escalate(ctx, ev, err)
		metrics.RecordFanout("failed", len(recipients), time.Since(start))
		return
	}

	metrics.RecordFanout("ok", len(recipients), time.Since(start))
	log.Info().
		Int("recipients", len(recipients)).
		Dur("duration", time.Since(start)).
		Msg("fan-out completed")
}

// Stop drains the worker pool.
func (d *Distributor) Stop() {
	d.pool.Stop()
}

func (d *Distributor) escalate(ctx context.Context, ev domain.PostCreatedEvent, cause error) {
	d.log.Error().Int64("post_id", ev.PostID).Err(cause).Msg("fan-out failed, routing to dead-letter exchange")
	metrics.RecordDLQMessage("fanout_failure")

	if err := d.dlq.PublishFailedEvent(ctx, ev, 0, cause.Error()); err != nil {
		d.log.Error().Int64("post_id", ev.PostID).Err(err).Msg("dead-letter publish failed")
	}
}
