// Package events publishes session outcome events to Google Cloud Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
)

// Message attributes set on every outcome event.
const (
	AttrSessionID = "session_id"
	AttrOperation = "operation"
	AttrChannel   = "channel"
)

// PubsubPublisher implements dispatch.EventPublisher on a Pub/Sub topic.
type PubsubPublisher struct {
	publisher *pubsub.Publisher
	topicID   string
	logger    *slog.Logger
}

func NewPubsubPublisher(client *pubsub.Client, topicID string, logger *slog.Logger) *PubsubPublisher {
	return &PubsubPublisher{
		publisher: client.Publisher(topicID),
		topicID:   topicID,
		logger:    logger.With("component", "OutcomePublisher", "topic", topicID),
	}
}

// NewMessage encodes event as a Pub/Sub message.
func NewMessage(event dispatch.OutcomeEvent) (*pubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome event %s: %w", event.EventID, err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrSessionID: event.SessionID,
			AttrOperation: event.Envelope.Operation,
			AttrChannel:   event.Envelope.Channel,
		},
	}, nil
}

// Publish blocks until the server acknowledges the event.
func (p *PubsubPublisher) Publish(ctx context.Context, event dispatch.OutcomeEvent) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}
	serverID, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish outcome event %s: %w", event.EventID, err)
	}
	p.logger.Debug("Outcome event published", "event_id", event.EventID, "message_id", serverID)
	return nil
}

// Stop flushes pending messages.
func (p *PubsubPublisher) Stop() {
	p.publisher.Stop()
}

// NoopPublisher drops events; used when no topic is configured.
type NoopPublisher struct {
	logger *slog.Logger
}

func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger.With("component", "OutcomePublisher")}
}

func (p *NoopPublisher) Publish(_ context.Context, event dispatch.OutcomeEvent) error {
	p.logger.Debug("No outcome topic configured; event not published", "event_id", event.EventID)
	return nil
}
