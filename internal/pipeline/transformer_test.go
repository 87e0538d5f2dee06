package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-courier-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
)

func TestOutcomeEventTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	env, err := courier.NewEnvelope(courier.DeliverySuccess{BoxNumber: 3, CitiboxID: 12, DeliveryID: "d-1"})
	require.NoError(t, err)

	marshal := func(event dispatch.OutcomeEvent) []byte {
		b, err := json.Marshal(event)
		require.NoError(t, err)
		return b
	}
	valid := dispatch.OutcomeEvent{EventID: "e1", SessionID: "s1", Owner: "urn:sm:user:user-123", Envelope: env}

	badOwner := valid
	badOwner.Owner = "urn:bad"
	noOwner := valid
	noOwner.Owner = ""
	legacyOwner := valid
	legacyOwner.Owner = "user-123"
	noSession := valid
	noSession.SessionID = ""
	badOutcome := valid
	badOutcome.Envelope = courier.Envelope{Operation: "delivery", Channel: "teleport", Payload: json.RawMessage(`{}`)}

	testCases := []struct {
		name                  string
		payload               []byte
		expectError           bool
		expectedErrorContains string
	}{
		{name: "Happy Path", payload: marshal(valid)},
		{name: "Happy Path - Bare user id owner", payload: marshal(legacyOwner)},
		{name: "Failure - Malformed JSON", payload: []byte("not-json"), expectError: true, expectedErrorContains: "failed to unmarshal outcome event"},
		{name: "Failure - Invalid owner", payload: marshal(badOwner), expectError: true, expectedErrorContains: "invalid owner"},
		{name: "Failure - Missing owner", payload: marshal(noOwner), expectError: true, expectedErrorContains: "missing owner"},
		{name: "Failure - Missing session", payload: marshal(noSession), expectError: true, expectedErrorContains: "no session id"},
		{name: "Failure - Unknown channel", payload: marshal(badOutcome), expectError: true, expectedErrorContains: "undecodable outcome"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: tc.payload}}
			event, skip, err := pipeline.OutcomeEventTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "s1", event.SessionID)
		})
	}
}
