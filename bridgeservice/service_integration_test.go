//go:build integration

package bridgeservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-courier-bridge/bridgeservice"
	"github.com/tinywideclouds/go-courier-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-courier-bridge/internal/api"
	"github.com/tinywideclouds/go-courier-bridge/internal/events"
	"github.com/tinywideclouds/go-courier-bridge/internal/pipeline"
	fsStore "github.com/tinywideclouds/go-courier-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

type mockDispatcher struct {
	mu         sync.Mutex
	callCount  int
	lastTokens []string
	lastData   map[string]string
}

func (m *mockDispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastTokens = tokens
	m.lastData = data
	return "success:1 invalid:0", nil, nil
}

func (m *mockDispatcher) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockDispatcher) GetLast() ([]string, map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTokens, m.lastData
}

func TestCourierBridge_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-bridge"

	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	topicID := "courier-outcomes-" + uuid.NewString()
	subID := topicID + "-sub"
	createPubsubResources(t, ctx, psClient, projectID, topicID, subID)

	store := fsStore.NewOutcomeStore(fsClient, logger)
	publisher := events.NewPubsubPublisher(psClient, topicID, logger)
	t.Cleanup(publisher.Stop)

	consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
	consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
	require.NoError(t, err)

	fcmDispatcher := &mockDispatcher{}
	cfg := &config.Config{
		ProjectID:          projectID,
		ListenAddr:         ":0",
		PublicBaseURL:      "http://bridge.test",
		OutcomeTopicID:     topicID,
		SubscriptionID:     subID,
		NumPipelineWorkers: 2,
		SessionTTL:         time.Minute,
		JanitorInterval:    time.Minute,
	}
	svc, err := bridgeservice.New(cfg, bridgeservice.Dependencies{
		Store:          store,
		Publisher:      publisher,
		Consumer:       consumer,
		FCM:            fcmDispatcher,
		AuthMiddleware: fakeAuth,
	}, logger)
	require.NoError(t, err)

	svcCtx, svcCancel := context.WithCancel(ctx)
	defer svcCancel()
	go func() { _ = svc.Start(svcCtx) }()
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	srv := httptest.NewServer(svc.Mux())
	t.Cleanup(srv.Close)

	// Open a delivery session that should notify one Android device.
	resp := call(t, http.MethodPost, srv.URL+"/api/v1/sessions/delivery", testUser,
		`{"access_token":"tok","tracking":"TRK1","recipient_phone":"+34600000000","notify":{"fcm_tokens":["android-token-999"]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	// The hosted page reports the parcel could not be deposited.
	resp = call(t, http.MethodPost, srv.URL+"/bridge/"+created.SessionID+"/messages/fail", "",
		fmt.Sprintf(`{"code":%q}`, courier.CodeBoxNotAvailable))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return fcmDispatcher.GetCallCount() == 1
	}, 15*time.Second, 100*time.Millisecond)

	tokens, data := fcmDispatcher.GetLast()
	assert.Equal(t, []string{"android-token-999"}, tokens)
	assert.Equal(t, created.SessionID, data[pipeline.DataSessionID])
	assert.Equal(t, "fail", data[pipeline.DataChannel])
	assert.Equal(t, courier.CodeBoxNotAvailable, data[pipeline.DataCode])

	record, err := store.Fetch(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testUser, record.Owner.String())
	outcome, err := record.Outcome()
	require.NoError(t, err)
	assert.Equal(t, courier.DeliveryFailure{Code: courier.CodeBoxNotAvailable}, outcome)
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}

func receiveOne(t *testing.T, ctx context.Context, sub *pubsub.Subscriber, timeout time.Duration) *pubsub.Message {
	t.Helper()
	var received *pubsub.Message
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := sub.Receive(cctx, func(ctx context.Context, msg *pubsub.Message) {
		msg.Ack()
		received = msg
		cancel()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Receive returned an unexpected error: %v", err)
	}
	return received
}
