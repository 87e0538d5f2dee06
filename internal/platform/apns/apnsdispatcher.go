// Package apns notifies iOS hosts of session outcomes through the Apple Push
// Notification service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// outcomeExpiry bounds how long APNs keeps retrying an offline device.
const outcomeExpiry = time.Hour

// APNSClient is the subset of *apns2.Client the dispatcher uses.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// Config holds the token-signing credentials of the host app.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 key file.
	P8KeyContent string
	// Sandbox selects the development APNs gateway.
	Sandbox bool
}

// NewDispatcher parses the P8 key up front so bad credentials fail at start-up.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return newDispatcher(client, cfg.BundleID, logger), nil
}

func newDispatcher(client APNSClient, topic string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSDispatcher"),
		now:    time.Now,
	}
}

// Dispatch pushes content to each token in turn; APNs has no multicast.
// Transport failures are counted in the receipt but not returned.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tokens []string,
	content notification.NotificationContent,
	data map[string]string,
) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		Sound(content.Sound).
		ThreadID(data["session_id"])
	for k, v := range data {
		builder.Custom(k, v)
	}

	var invalidTokens []string
	successCount, failureCount := 0, 0
	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return "", invalidTokens, fmt.Errorf("apns dispatch interrupted: %w", err)
		}

		res, err := d.client.Push(&apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			CollapseID:  data["session_id"],
			Expiration:  d.now().Add(outcomeExpiry),
			Priority:    apns2.PriorityHigh,
			PushType:    apns2.PushTypeAlert,
			Payload:     builder,
		})
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}
		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidTokens), failureCount)
	return receipt, invalidTokens, nil
}
