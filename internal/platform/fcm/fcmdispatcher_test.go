package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-courier-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMDispatch_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	content := notification.NotificationContent{Title: "Parcel delivered", Body: "Box 3", Sound: "default"}
	data := map[string]string{"session_id": "sess-1", "channel": "success"}

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)
		tokens := []string{"token-1", "token-2"}

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 2,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(msg *messaging.MulticastMessage) bool {
			return len(msg.Tokens) == 2 && msg.Data["session_id"] == "sess-1"
		})).Return(mockResponse, nil)

		receipt, invalid, err := dispatcher.Dispatch(ctx, tokens, content, data)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Equal(t, "success:2 invalid:0", receipt)
		mockClient.AssertExpectations(t)
	})

	t.Run("No tokens skips the call", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		receipt, _, err := dispatcher.Dispatch(ctx, nil, content, data)

		require.NoError(t, err)
		assert.Equal(t, "skipped: no tokens", receipt)
		mockClient.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
	})

	t.Run("Transport Failure (Retryable)", func(t *testing.T) {
		mockClient := new(MockClient)
		dispatcher := fcm.NewDispatcher(mockClient, logger)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, _, err := dispatcher.Dispatch(ctx, []string{"token-1"}, content, data)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})
}

func TestNewMulticast(t *testing.T) {
	dispatcher := fcm.NewDispatcher(new(MockClient), newTestLogger(), fcm.WithWebIcon("/icon.png"))
	content := notification.NotificationContent{Title: "Retrieval failed", Body: "The box was empty.", Sound: "default"}

	msg := dispatcher.NewMulticast([]string{"t"}, content, map[string]string{"session_id": "sess-7"})

	require.NotNil(t, msg.Android)
	assert.Equal(t, "sess-7", msg.Android.CollapseKey)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, "default", msg.Android.Notification.Sound)
	assert.Equal(t, "/icon.png", msg.Webpush.Notification.Icon)
	assert.Equal(t, "sess-7", msg.Webpush.Notification.Tag)
	assert.Equal(t, "Retrieval failed", msg.Notification.Title)
}
