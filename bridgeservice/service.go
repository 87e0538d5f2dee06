// Package bridgeservice assembles the courier bridge HTTP service: the
// authenticated session API, the device relay, metrics and the outcome
// notification pipeline.
package bridgeservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-courier-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-courier-bridge/internal/api"
	"github.com/tinywideclouds/go-courier-bridge/internal/bridge"
	"github.com/tinywideclouds/go-courier-bridge/internal/metrics"
	"github.com/tinywideclouds/go-courier-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
)

// Dependencies are the infrastructure pieces built by main. Consumer and the
// dispatchers may be nil; without a consumer no pipeline runs.
type Dependencies struct {
	Store          dispatch.OutcomeStore
	Publisher      dispatch.EventPublisher
	Consumer       messagepipeline.MessageConsumer
	FCM            dispatch.Dispatcher
	APNS           dispatch.Dispatcher
	Web            dispatch.WebDispatcher
	AuthMiddleware func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	cfg             *config.Config
	registry        *bridge.Registry
	pipelineService *messagepipeline.StreamingService[dispatch.OutcomeEvent]
	janitorCtx      context.Context
	stopJanitor     context.CancelFunc
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Store == nil || deps.Publisher == nil || deps.AuthMiddleware == nil {
		return nil, fmt.Errorf("bridge service needs a store, a publisher and an auth middleware")
	}

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)
	registry := bridge.NewRegistry(cfg.SessionTTL, logger)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	w := &Wrapper{
		BaseServer:  baseServer,
		cfg:         cfg,
		registry:    registry,
		janitorCtx:  janitorCtx,
		stopJanitor: stopJanitor,
		logger:      logger,
	}

	if deps.Consumer != nil {
		processor := pipeline.NewProcessor(deps.FCM, deps.APNS, deps.Web, logger)
		streamingService, err := messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.OutcomeEventTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		w.pipelineService = streamingService
	}

	sessionAPI := api.NewSessionAPI(registry, deps.Store, deps.Publisher, cfg.PublicBaseURL, logger)
	relay := bridge.NewRelay(registry, logger, bridge.WithCheckOrigin(bridge.AllowOrigins(relayOrigins(cfg)...)))

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.AuthMiddleware(handlerFunc)))
	}

	// Caller API
	handle("POST /api/v1/sessions/delivery", sessionAPI.CreateDelivery)
	handle("POST /api/v1/sessions/retrieval", sessionAPI.CreateRetrieval)
	handle("GET /api/v1/sessions/{id}", sessionAPI.GetSession)
	handle("DELETE /api/v1/sessions/{id}", sessionAPI.DismissSession)
	handle("GET /api/v1/outcomes", sessionAPI.ListOutcomes)

	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// Device relay; the session id is the capability.
	mux.HandleFunc("GET /bridge/{id}", relay.ServeShell)
	mux.HandleFunc("GET /bridge/{id}/ws", relay.ServeWS)
	mux.HandleFunc("POST /bridge/{id}/messages/{channel}", relay.PostMessage)
	mux.HandleFunc("POST /bridge/{id}/load", relay.PostLoad)

	mux.Handle("GET /metrics", metrics.Handler())

	return w, nil
}

// Registry exposes the live sessions, mainly for tests.
func (w *Wrapper) Registry() *bridge.Registry { return w.registry }

// Start runs the pipeline and the registry janitor, then serves HTTP until
// shutdown.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Outcome notification pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}

	go w.registry.RunJanitor(w.janitorCtx, w.cfg.JanitorInterval)

	w.SetReady(true)
	w.logger.Info("Service is now ready.", "session_ttl", w.cfg.SessionTTL.String())
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)

	var finalErr error
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.stopJanitor()
	w.registry.Close()
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

// relayOrigins lists the origins allowed to open the relay WebSocket: the
// bridge's own public origin, where the shell page is served, plus the CORS
// origins of the calling apps.
func relayOrigins(cfg *config.Config) []string {
	origins := append([]string(nil), cfg.CorsConfig.AllowedOrigins...)
	if u, err := url.Parse(cfg.PublicBaseURL); err == nil && u.Scheme != "" && u.Host != "" {
		origins = append(origins, u.Scheme+"://"+u.Host)
	}
	return origins
}
