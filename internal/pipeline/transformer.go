// Package pipeline consumes outcome events and notifies the devices the
// session's creator asked to have told.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
)

// OutcomeEventTransformer unmarshals a raw message payload into an
// OutcomeEvent. Malformed events are skipped with an error so the streaming
// service nacks them onto the dead-letter topic.
func OutcomeEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.OutcomeEvent, bool, error) {
	var event dispatch.OutcomeEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal outcome event from message %s: %w", msg.ID, err)
	}
	if event.SessionID == "" {
		return nil, true, fmt.Errorf("outcome event in message %s has no session id", msg.ID)
	}
	if _, err := event.OwnerURN(); err != nil {
		return nil, true, fmt.Errorf("outcome event in message %s: %w", msg.ID, err)
	}
	if _, err := event.Envelope.Outcome(); err != nil {
		return nil, true, fmt.Errorf("outcome event in message %s carries an undecodable outcome: %w", msg.ID, err)
	}
	return &event, false, nil
}
