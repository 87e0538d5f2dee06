package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-courier-bridge/internal/events"
	"github.com/tinywideclouds/go-courier-bridge/internal/platform/apns"
	"github.com/tinywideclouds/go-courier-bridge/internal/platform/fcm"
	"github.com/tinywideclouds/go-courier-bridge/internal/platform/web"

	"github.com/tinywideclouds/go-courier-bridge/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-courier-bridge/internal/storage/firestore"
	"github.com/tinywideclouds/go-courier-bridge/internal/storage/memory"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"

	"github.com/tinywideclouds/go-courier-bridge/bridgeservice"
	"github.com/tinywideclouds/go-courier-bridge/bridgeservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-courier-bridge")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("yaml config invalid: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	deps := bridgeservice.Dependencies{}

	// --- Outcome Store & Events ---
	var psClient *pubsub.Client
	if cfg.ProjectID == "" {
		logger.Warn("No project configured; outcomes are kept in memory and not published")
		deps.Store = memory.NewOutcomeStore()
		deps.Publisher = events.NewNoopPublisher(logger)
	} else {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client failed: %w", err)
		}
		defer fsClient.Close()

		var store dispatch.OutcomeStore = fsStore.NewOutcomeStore(fsClient, logger)
		logger.Info("OutcomeStore initialized", "type", "firestore")

		if cfg.Redis.Enabled {
			logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
			redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			defer redisClient.Close()
			store = cache.NewCachedOutcomeStore(store, redisClient, cfg.OutcomeCacheTTL)
			logger.Info("OutcomeStore upgraded", "type", "redis_cached_firestore")
		}
		deps.Store = store

		psClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		if cfg.OutcomeTopicID != "" {
			publisher := events.NewPubsubPublisher(psClient, cfg.OutcomeTopicID, logger)
			defer publisher.Stop()
			deps.Publisher = publisher
		} else {
			deps.Publisher = events.NewNoopPublisher(logger)
		}
	}

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("identity discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("auth middleware failed: %w", err)
	}
	deps.AuthMiddleware = authMiddleware

	// --- Dispatchers & Consumer ---
	if cfg.PipelineEnabled() {
		if err := wireDispatchers(ctx, cfg, &deps, logger); err != nil {
			return err
		}
		consumer, err := newOutcomeConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
		deps.Consumer = consumer
	}

	service, err := bridgeservice.New(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

// wireDispatchers sets only the channels that are configured. Interface
// fields are left untyped nil otherwise so the processor can skip them.
func wireDispatchers(ctx context.Context, cfg *config.Config, deps *bridgeservice.Dependencies, logger *slog.Logger) error {
	if cfg.FCMEnabled {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return fmt.Errorf("failed to initialize firebase app: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("failed to create fcm messaging client: %w", err)
		}
		deps.FCM = fcm.NewDispatcher(fcmMessaging, logger)
		logger.Info("FCM Dispatcher enabled")
	}

	if cfg.APNS.Enabled() {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
			Sandbox:      cfg.APNS.Sandbox,
		}, logger)
		if err != nil {
			return err
		}
		deps.APNS = apnsDispatcher
		logger.Info("APNs Dispatcher enabled", "bundle_id", cfg.APNS.BundleID, "sandbox", cfg.APNS.Sandbox)
	}

	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
	} else {
		deps.Web = web.NewDispatcher(cfg.Vapid, logger)
		logger.Info("Web Dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	}
	return nil
}

func newOutcomeConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.SubscriptionID, "subscriptions")
	topic := convertPubsub(cfg.ProjectID, cfg.OutcomeTopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topic,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	consumerCfg := cfg.PubsubConsumerConfig
	if consumerCfg == nil {
		consumerCfg = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
	return messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
}

type resourceKind string

func convertPubsub(project, id string, kind resourceKind) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
