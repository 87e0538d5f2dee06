package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// NewProcessor creates the fan-out stage. Each platform dispatcher is optional;
// targets for a platform without a dispatcher are logged and skipped.
func NewProcessor(
	fcmDispatcher dispatch.Dispatcher,
	apnsDispatcher dispatch.Dispatcher,
	webDispatcher dispatch.WebDispatcher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.OutcomeEvent] {

	return func(ctx context.Context, original messagepipeline.Message, event *dispatch.OutcomeEvent) error {
		procLogger := logger.With(
			"session_id", event.SessionID,
			"owner", event.Owner,
			"pubsub_msg_id", original.ID,
		)

		if event.Notify.Empty() {
			procLogger.Info("No notify targets on outcome event; nothing to send.")
			return nil
		}

		outcome, err := event.Envelope.Outcome()
		if err != nil {
			// The transformer already rejects these; retrying cannot help.
			procLogger.Error("Outcome event carries an undecodable outcome", "err", err)
			return nil
		}
		content := RenderContent(outcome)
		data := RenderData(*event, outcome)

		if err := sendTokens(ctx, procLogger.With("platform", "fcm"), fcmDispatcher, event.Notify.FCMTokens, content, data); err != nil {
			return err
		}
		if err := sendTokens(ctx, procLogger.With("platform", "apns"), apnsDispatcher, event.Notify.APNSTokens, content, data); err != nil {
			return err
		}

		if len(event.Notify.WebSubscriptions) > 0 {
			if webDispatcher == nil {
				procLogger.Warn("Web Push targets present but no Web Push dispatcher configured", "count", len(event.Notify.WebSubscriptions))
				return nil
			}
			receipt, invalidSubs, err := webDispatcher.Dispatch(ctx, event.Notify.WebSubscriptions, content, data)
			for _, sub := range invalidSubs {
				procLogger.Info("Web subscription reported invalid", "endpoint", sub.Endpoint)
			}
			if err != nil {
				procLogger.Error("Web Dispatch failed", "err", err)
				return fmt.Errorf("web push dispatch for session %s: %w", event.SessionID, err)
			}
			procLogger.Info("Web Dispatched", "receipt", receipt)
		}
		return nil
	}
}

func sendTokens(ctx context.Context, logger *slog.Logger, d dispatch.Dispatcher, tokens []string, content notification.NotificationContent, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}
	if d == nil {
		logger.Warn("Tokens present but no dispatcher configured", "count", len(tokens))
		return nil
	}
	receipt, invalid, err := d.Dispatch(ctx, tokens, content, data)
	if len(invalid) > 0 {
		logger.Info("Tokens reported invalid", "count", len(invalid))
	}
	if err != nil {
		logger.Error("Dispatch failed", "err", err)
		return err
	}
	logger.Info("Dispatched", "receipt", receipt)
	return nil
}
