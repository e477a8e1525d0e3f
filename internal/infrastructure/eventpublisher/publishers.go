package eventpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/maithanhduyan/bibank/internal/domain"
)

// LogPublisher is a simple publisher that logs events.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("aggregate_type", event.AggregateType).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", payload).
		Msg("event published")

	return nil
}

// MsgPublisher is the part of a NATS connection used to publish.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher publishes events to subjects "<prefix>.<event_type>".
type NATSPublisher struct {
	conn       MsgPublisher
	prefix     string
	maxElapsed time.Duration
}

// NewNATSPublisher creates a publisher over conn.
func NewNATSPublisher(conn MsgPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "bibank"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, maxElapsed: 2 * time.Second}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish sends the event envelope, retrying transient failures with backoff.
// The event id is sent as Nats-Msg-Id so JetStream can drop redeliveries.
func (p *NATSPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	body, err := json.Marshal(envelope{
		ID:            event.ID,
		Type:          event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		CreatedAt:     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		Payload:       event.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	msg := nats.NewMsg(p.Subject(event.EventType))
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Data = body

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = p.maxElapsed

	return backoff.Retry(func() error {
		return p.conn.PublishMsg(msg)
	}, backoff.WithContext(b, ctx))
}

type envelope struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	CreatedAt     string         `json:"created_at"`
	Payload       map[string]any `json:"payload"`
}
