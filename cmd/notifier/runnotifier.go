package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/hammerstack/go-auction-notifications/internal/fanout"
	"github.com/hammerstack/go-auction-notifications/internal/platform/apns"
	"github.com/hammerstack/go-auction-notifications/internal/platform/fcm"
	"github.com/hammerstack/go-auction-notifications/internal/platform/web"
	"github.com/hammerstack/go-auction-notifications/internal/storage/cache"
	fsStore "github.com/hammerstack/go-auction-notifications/internal/storage/firestore"
	"github.com/hammerstack/go-auction-notifications/pkg/dispatch"
	"github.com/hammerstack/go-auction-notifications/pkg/notify"

	"github.com/hammerstack/go-auction-notifications/notifier"
	"github.com/hammerstack/go-auction-notifications/notifier/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	logLevel := slog.LevelInfo
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		_ = logLevel.UnmarshalText([]byte(raw))
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-auction-notifications")
	slog.SetDefault(logger)

	fatal := func(msg string, err error) {
		logger.Error(msg, "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// --- Config loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		fatal("Failed to unmarshal embedded yaml config", err)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		fatal("Config failed", err)
	}

	// --- Infrastructure clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		fatal("PubSub client failed", err)
	}
	defer psClient.Close()

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		fatal("Firestore client failed", err)
	}
	defer fsClient.Close()

	// --- Stores ---
	var registry notify.TokenRegistry = fsStore.NewTokenStore(fsClient)
	logger.Info("Token registry initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			fatal("Failed to connect to Redis", err)
		}
		defer redisClient.Close()
		registry = cache.NewCachedRegistry(registry, redisClient, 24*time.Hour)
		logger.Info("Token registry upgraded", "type", "redis_cached_firestore")
	}

	notificationStore := fsStore.NewNotificationStore(fsClient, logger)
	markerStore := fsStore.NewMarkerStore(fsClient)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Platform dispatchers ---

	// A. Mobile (FCM)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		fatal("Failed to initialize Firebase App", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		fatal("Failed to create FCM messaging client", err)
	}
	fcmDispatcher := fcm.NewDispatcher(fcmMessaging, logger)

	// B. iOS (APNs) - optional
	var apnsDispatcher dispatch.Dispatcher
	if cfg.APNS.Enabled {
		d, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8KeyContent,
		}, logger)
		if err != nil {
			fatal("Failed to create APNs dispatcher", err)
		}
		apnsDispatcher = d
		logger.Info("APNs dispatcher enabled", "bundle_id", cfg.APNS.BundleID)
	}

	// C. Web (VAPID) - optional
	var webDispatcher dispatch.WebDispatcher
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web push disabled.")
	} else {
		webDispatcher = web.NewDispatcher(web.VapidConfig{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger)
		logger.Info("Web dispatcher enabled", "public_key", cfg.Vapid.PublicKey)
	}

	sender := fanout.New(registry, fcmDispatcher, apnsDispatcher, webDispatcher, cfg.DispatchTimeout, logger)

	// --- Consumer & service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		fatal("Consumer creation failed", err)
	}

	service, err := notifier.New(
		cfg,
		consumer,
		registry,
		notificationStore,
		markerStore,
		sender,
		authMiddleware,
		logger,
	)
	if err != nil {
		fatal("Service creation failed", err)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		fatal("Service shutdown with error", err)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := pubsubName(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := pubsubName(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := pubsubName(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

func pubsubName(project, id, kind string) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
