// Package queue publishes stage messages with FIFO group ordering and a deduplication window.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/metriport/metriport-sub005/shared/logger"
	"github.com/metriport/metriport-sub005/shared/rabbitmq"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mock_broker.go -package=queue github.com/metriport/metriport-sub005/internal/queue Broker

// DefaultDedupWindow matches the usual FIFO queue deduplication interval
const DefaultDedupWindow = 5 * time.Minute

// Broker publishes raw messages
type Broker interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
}

// Message is a JSON message for a FIFO queue
type Message struct {
	RoutingKey string
	// GroupID scopes ordering
	GroupID string
	// DedupID suppresses repeats within the dedup window
	DedupID string
	Body    any
}

// FIFOPublisher publishes JSON messages once per dedup id
type FIFOPublisher struct {
	broker Broker
	dedup  Deduplicator
	window time.Duration
	logger *slog.Logger
}

// NewFIFOPublisher creates a FIFOPublisher
func NewFIFOPublisher(broker Broker, dedup Deduplicator, window time.Duration, log *slog.Logger) *FIFOPublisher {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &FIFOPublisher{broker: broker, dedup: dedup, window: window, logger: log}
}

// Send publishes msg. It reports false without error when the dedup id was already sent.
func (p *FIFOPublisher) Send(ctx context.Context, msg Message) (bool, error) {
	if msg.DedupID == "" {
		return false, fmt.Errorf("message for %s has no dedup id", msg.RoutingKey)
	}

	body, err := json.Marshal(msg.Body)
	if err != nil {
		return false, fmt.Errorf("failed to encode message: %w", err)
	}

	log := logger.FromContext(ctx, p.logger).With(
		slog.String("routing_key", msg.RoutingKey),
		slog.String("dedup_id", msg.DedupID),
	)

	dedupKey := msg.RoutingKey + ":" + msg.DedupID
	claimed, err := p.dedup.Claim(ctx, dedupKey, p.window)
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup id: %w", err)
	}
	if !claimed {
		log.Debug("Skipping duplicate message")
		return false, nil
	}

	err = p.broker.Publish(ctx, rabbitmq.Message{
		RoutingKey:  msg.RoutingKey,
		Body:        body,
		ContentType: "application/json",
		MessageID:   msg.DedupID,
		GroupID:     msg.GroupID,
	})
	if err != nil {
		if releaseErr := p.dedup.Release(ctx, dedupKey); releaseErr != nil {
			log.Warn("Failed to release dedup id", slog.String("error", releaseErr.Error()))
		}
		return false, fmt.Errorf("failed to publish to %s: %w", msg.RoutingKey, err)
	}

	log.Debug("Message published", slog.String("group_id", msg.GroupID))
	return true, nil
}
