package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/metrics"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	rkPostCreated = "post.created"
	rkPostDeleted = "post.deleted"

	createdQueueName = "q.post.created"
	deletedQueueName = "q.post.deleted"

	prefetchCount  = 10
	reconnectDelay = 5 * time.Second
)

// Dispatcher accepts decoded post-created events for asynchronous fan-out.
type Dispatcher interface {
	Submit(ev domain.PostCreatedEvent)
}

// DeletedMarker tombstones a post across all feeds that reference it.
type DeletedMarker interface {
	MarkDeleted(ctx context.Context, postID int64) error
}

// RawDeadLetterer receives payloads that could not even be decoded.
type RawDeadLetterer interface {
	PublishRaw(ctx context.Context, body []byte, errMsg string) error
}

// Consumer binds to the post exchange and feeds decoded events into the
// fan-out pipeline. It reconnects indefinitely until the context is canceled.
type Consumer struct {
	rabbitURL  string
	exchange   string
	dispatcher Dispatcher
	marker     DeletedMarker
	dlq        RawDeadLetterer
	log        zerolog.Logger
}

func NewConsumer(rabbitURL, exchange string, dispatcher Dispatcher, marker DeletedMarker, dlq RawDeadLetterer) *Consumer {
	return &Consumer{
		rabbitURL:  strings.TrimSpace(rabbitURL),
		exchange:   strings.TrimSpace(exchange),
		dispatcher: dispatcher,
		marker:     marker,
		dlq:        dlq,
		log:        logger.Logger.With().Str("component", "rabbitmq_consumer").Logger(),
	}
}

// Start blocks until ctx is canceled, reconnecting after broker failures.
func (c *Consumer) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.connectAndConsume(ctx); err != nil {
				c.log.Error().Err(err).Dur("retry_in", reconnectDelay).Msg("consumer connection lost")
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
			}
		}
	}
}

func (c *Consumer) connectAndConsume(ctx context.Context) error {
	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	bindings := map[string]string{
		createdQueueName: rkPostCreated,
		deletedQueueName: rkPostDeleted,
	}
	for queue, rk := range bindings {
		q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
		if err != nil {
			return err
		}
		if err := ch.QueueBind(q.Name, rk, c.exchange, false, nil); err != nil {
			return err
		}
	}

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return err
	}

	created, err := ch.Consume(createdQueueName, "feed-service.created", false, false, false, false, nil)
	if err != nil {
		return err
	}
	deleted, err := ch.Consume(deletedQueueName, "feed-service.deleted", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info().Str("exchange", c.exchange).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-created:
			if !ok {
				return amqp.ErrClosed
			}
			c.settle(d, c.handleCreated(ctx, d.Body))
		case d, ok := <-deleted:
			if !ok {
				return amqp.ErrClosed
			}
			c.settle(d, c.handleDeleted(ctx, d.Body))
		}
	}
}

// settle acks handled deliveries and requeues transient failures.
func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// handleCreated decodes and dispatches one post-created payload. Undecodable
// payloads are dead-lettered and dropped; requeueing cannot fix them.
func (c *Consumer) handleCreated(ctx context.Context, body []byte) error {
	metrics.RecordEventConsumed(rkPostCreated)

	var ev domain.PostCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.Warn().Err(err).Msg("malformed post.created payload, dead-lettering")
		metrics.RecordDLQMessage("malformed_payload")
		if c.dlq != nil {
			_ = c.dlq.PublishRaw(ctx, body, err.Error())
		}
		return nil
	}

	c.dispatcher.Submit(ev)
	return nil
}

// handleDeleted tombstones a post. Marker write failures are transient, so
// the delivery is requeued.
func (c *Consumer) handleDeleted(ctx context.Context, body []byte) error {
	metrics.RecordEventConsumed(rkPostDeleted)

	var ev domain.PostDeletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.Warn().Err(err).Msg("malformed post.deleted payload, dead-lettering")
		metrics.RecordDLQMessage("malformed_payload")
		if c.dlq != nil {
			_ = c.dlq.PublishRaw(ctx, body, err.Error())
		}
		return nil
	}
	if ev.PostID <= 0 {
		c.log.Warn().Msg("post.deleted without post id, dropping")
		return nil
	}

	if err := c.marker.MarkDeleted(ctx, ev.PostID); err != nil {
		c.log.Error().Int64("post_id", ev.PostID).Err(err).Msg("tombstone write failed, requeueing")
		return err
	}
	c.log.Info().Int64("post_id", ev.PostID).Msg("post tombstoned")
	return nil
}
