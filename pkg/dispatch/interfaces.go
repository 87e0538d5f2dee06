// Package dispatch holds the contracts shared between the bridge service's
// HTTP surface, its outcome persistence and its notification pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// ErrOutcomeNotFound is returned by OutcomeStore.Fetch for unknown sessions.
var ErrOutcomeNotFound = errors.New("outcome not found")

// Dispatcher sends notification content to a batch of platform tokens
// (FCM or APNs). It returns a receipt and the tokens the platform reported as
// permanently invalid.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error)
}

// WebDispatcher is the Web Push counterpart of Dispatcher.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, content notification.NotificationContent, data map[string]string) (string, []notification.WebPushSubscription, error)
}

// NotifyTargets are the host devices told about a session's outcome.
type NotifyTargets struct {
	FCMTokens        []string                           `json:"fcm_tokens,omitempty"`
	APNSTokens       []string                           `json:"apns_tokens,omitempty"`
	WebSubscriptions []notification.WebPushSubscription `json:"web_subscriptions,omitempty"`
}

// Empty reports whether there is nobody to notify.
func (n NotifyTargets) Empty() bool {
	return len(n.FCMTokens) == 0 && len(n.APNSTokens) == 0 && len(n.WebSubscriptions) == 0
}

// OutcomeRecord is a stored terminal outcome.
type OutcomeRecord struct {
	SessionID string
	Owner     urn.URN
	Envelope  courier.Envelope
	CreatedAt time.Time
}

// Outcome decodes the stored envelope.
func (r OutcomeRecord) Outcome() (courier.Outcome, error) {
	return r.Envelope.Outcome()
}

// OutcomeStore persists terminal outcomes so callers can fetch them after the
// live session is gone.
type OutcomeStore interface {
	Save(ctx context.Context, record OutcomeRecord) error
	Fetch(ctx context.Context, sessionID string) (*OutcomeRecord, error)
	ListByOwner(ctx context.Context, owner urn.URN, limit int) ([]OutcomeRecord, error)
}

// OutcomeEvent is published once per terminated session.
type OutcomeEvent struct {
	EventID    string           `json:"event_id"`
	SessionID  string           `json:"session_id"`
	Owner      string           `json:"owner"`
	Envelope   courier.Envelope `json:"envelope"`
	Notify     NotifyTargets    `json:"notify"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// ErrMissingOwner is returned by OwnerURN for events without an owner.
var ErrMissingOwner = errors.New("missing owner")

// OwnerURN parses the event owner. An empty owner is an error.
func (e OutcomeEvent) OwnerURN() (urn.URN, error) {
	owner, err := urn.Parse(e.Owner)
	if err != nil {
		return owner, fmt.Errorf("invalid owner %q: %w", e.Owner, err)
	}
	if owner.IsZero() {
		return owner, fmt.Errorf("invalid owner: %w", ErrMissingOwner)
	}
	return owner, nil
}

// EventPublisher publishes outcome events.
type EventPublisher interface {
	Publish(ctx context.Context, event OutcomeEvent) error
}
