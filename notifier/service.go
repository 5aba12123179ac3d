// Package notifier assembles the notification delivery core: the match-event
// pipeline, the push fan-out, and the HTTP surface for device registration
// and inbox mutations.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/hammerstack/go-auction-notifications/internal/api"
	"github.com/hammerstack/go-auction-notifications/internal/pipeline"
	"github.com/hammerstack/go-auction-notifications/notifier/config"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notify.MatchEvent]
	logger          *slog.Logger
}

// New assembles the service from its injected collaborators. Nothing here
// owns a client lifecycle; construction happens once in cmd and the handles
// live for the process lifetime.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	registry notify.TokenRegistry,
	store notify.NotificationStore,
	marker notify.MatchMarker,
	sender notify.PushSender,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Match event processor
	processor := pipeline.NewProcessor(store, sender, marker, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.MatchEventTransformer,
		processor.Stream(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. HTTP APIs
	tokenAPI := api.NewTokenAPI(registry, logger)
	inboxAPI := api.NewInboxAPI(store, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Device registration (one pair of doors per platform)
	handle("POST /api/v1/register/fcm", tokenAPI.RegisterFCM)
	handle("POST /api/v1/register/apns", tokenAPI.RegisterAPNS)
	handle("POST /api/v1/register/web", tokenAPI.RegisterWeb)
	handle("POST /api/v1/unregister/fcm", tokenAPI.UnregisterFCM)
	handle("POST /api/v1/unregister/apns", tokenAPI.UnregisterAPNS)
	handle("POST /api/v1/unregister/web", tokenAPI.UnregisterWeb)

	// Inbox mutations (the durable half of the optimistic client)
	handle("POST /api/v1/notifications/{id}/read", inboxAPI.MarkRead)
	handle("POST /api/v1/notifications/read-all", inboxAPI.MarkAllRead)
	handle("DELETE /api/v1/notifications/{id}", inboxAPI.Dismiss)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
