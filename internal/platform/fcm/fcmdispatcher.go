// Package fcm notifies Android and web hosts of session outcomes through
// Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const defaultWebIcon = "/assets/icons/icon-192x192.png"

// MessagingClient is the subset of *messaging.Client the dispatcher uses.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client  MessagingClient
	webIcon string
	logger  *slog.Logger
}

type Option func(*Dispatcher)

// WithWebIcon sets the icon shown by browsers receiving the message.
func WithWebIcon(path string) Option {
	return func(d *Dispatcher) { d.webIcon = path }
}

func NewDispatcher(client MessagingClient, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:  client,
		webIcon: defaultWebIcon,
		logger:  logger.With("component", "FCMDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewMulticast builds the FCM message for one outcome. Messages for the same
// session collapse on the device.
func (d *Dispatcher) NewMulticast(tokens []string, content notification.NotificationContent, data map[string]string) *messaging.MulticastMessage {
	sessionID := data["session_id"]
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority:    "high",
			CollapseKey: sessionID,
			Notification: &messaging.AndroidNotification{
				Sound: content.Sound,
				Tag:   sessionID,
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: content.Title,
				Body:  content.Body,
				Icon:  d.webIcon,
				Tag:   sessionID,
			},
		},
	}
}

// Dispatch sends content to tokens. A rejected batch is dropped without an
// error; transport failures and per-token retryable failures are returned so
// the event is redelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	br, err := d.client.SendEachForMulticast(ctx, d.NewMulticast(tokens, content, data))
	if err != nil {
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return "skipped: invalid_argument", nil, nil
		}
		return "", nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalidTokens []string
	retryable := 0
	for idx, resp := range br.Responses {
		if resp.Success {
			continue
		}
		if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
			invalidTokens = append(invalidTokens, tokens[idx])
			continue
		}
		retryable++
	}
	if retryable > 0 {
		return "", invalidTokens, fmt.Errorf("fcm batch had %d retryable errors", retryable)
	}

	return fmt.Sprintf("success:%d invalid:%d", br.SuccessCount, len(invalidTokens)), invalidTokens, nil
}
