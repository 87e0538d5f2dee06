// Package web notifies browser hosts of session outcomes over VAPID Web Push.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-courier-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// pushTTL is how long, in seconds, push services hold an outcome for an
// offline browser.
const pushTTL = 3600

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the client used to reach push services.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type pushPayload struct {
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// Dispatch pushes content to each subscription. Subscriptions the push service
// reports as gone (404/410) are returned as invalid.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []notification.WebPushSubscription,
	content notification.NotificationContent,
	data map[string]string,
) (string, []notification.WebPushSubscription, error) {
	if len(subs) == 0 {
		return "skipped: no subscriptions", nil, nil
	}

	body, err := json.Marshal(pushPayload{
		Notification: pushNotification{Title: content.Title, Body: content.Body, Tag: data["session_id"]},
		Data:         data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var invalidSubs []notification.WebPushSubscription
	successCount, failureCount := 0, 0
	for _, sub := range subs {
		status, err := d.send(ctx, body, sub)
		if err != nil {
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}

		switch status {
		case http.StatusCreated, http.StatusOK, http.StatusAccepted:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			invalidSubs = append(invalidSubs, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", status, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidSubs), failureCount)
	return receipt, invalidSubs, nil
}

func (d *Dispatcher) send(ctx context.Context, body []byte, sub notification.WebPushSubscription) (int, error) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, s, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             pushTTL,
		Urgency:         webpush.UrgencyHigh,
		HTTPClient:      d.httpClient,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
