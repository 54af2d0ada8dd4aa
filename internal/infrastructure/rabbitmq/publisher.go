package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pawgrid/feed-service/internal/domain"
	"github.com/pawgrid/feed-service/internal/pkg/logger"
	"github.com/pawgrid/feed-service/internal/resilience"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	rkFanoutFailed     = "post.created.failed"
	rkMalformedPayload = "post.created.malformed"

	dlqQueueName = "q.post.created.dlq"
)

// DLQPublisher routes events that could not be processed to the dead-letter
// exchange so they survive for inspection and manual replay.
type DLQPublisher struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	retry resilience.RetryConfig
	log   zerolog.Logger
}

func NewDLQPublisher(rabbitURL, exchange string) (*DLQPublisher, error) {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("dlq publisher dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dlq publisher channel: %w", err)
	}

	if err := declareDLQTopology(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &DLQPublisher{
		exchange: exchange,
		conn:     conn,
		ch:       ch,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		log: logger.Logger.With().Str("component", "dlq_publisher").Logger(),
	}, nil
}

func declareDLQTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq exchange: %w", err)
	}
	q, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare dlq queue: %w", err)
	}
	for _, rk := range []string{rkFanoutFailed, rkMalformedPayload} {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			return fmt.Errorf("bind dlq queue: %w", err)
		}
	}
	return nil
}

// PublishFailedEvent dead-letters an event whose fan-out exhausted its
// attempts. Publishing itself is retried; losing the message loses the post
// for every recipient.
func (p *DLQPublisher) PublishFailedEvent(ctx context.Context, ev domain.PostCreatedEvent, retryCount int, errMsg string) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal failed event: %w", err)
	}
	return p.publish(ctx, rkFanoutFailed, body, amqp.Table{
		"x-retry-count":   int32(retryCount),
		"x-error-message": errMsg,
		"x-failed-at":     time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishRaw dead-letters an undecodable payload verbatim.
func (p *DLQPublisher) PublishRaw(ctx context.Context, body []byte, errMsg string) error {
	return p.publish(ctx, rkMalformedPayload, body, amqp.Table{
		"x-error-message": errMsg,
		"x-failed-at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *DLQPublisher) publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
	err := resilience.Retry(ctx, p.retry, func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
			Body:         body,
		})
	})
	if err != nil {
		p.log.Error().Str("routing_key", routingKey).Err(err).Msg("dead-letter publish failed")
		return err
	}
	p.log.Info().Str("routing_key", routingKey).Msg("message dead-lettered")
	return nil
}

func (p *DLQPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
