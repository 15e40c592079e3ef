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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-pusher-service/internal/hub"
	"github.com/tinywideclouds/go-pusher-service/internal/platform/apns"
	"github.com/tinywideclouds/go-pusher-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-pusher-service/internal/platform/web"
	fsRegistry "github.com/tinywideclouds/go-pusher-service/internal/registry/firestore"
	"github.com/tinywideclouds/go-pusher-service/internal/registry/memory"
	pgRegistry "github.com/tinywideclouds/go-pusher-service/internal/registry/postgres"
	"github.com/tinywideclouds/go-pusher-service/internal/storage/cache"
	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"

	"github.com/tinywideclouds/go-pusher-service/pushservice"
	"github.com/tinywideclouds/go-pusher-service/pushservice/config"

	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

const registryCacheTTL = 24 * time.Hour

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
	})).With("service", "go-pusher-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Registry (optionally cached) ---
	registry, closeRegistry, err := newRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("Registry setup failed", "backend", cfg.Registry.Backend, "err", err)
		os.Exit(1)
	}
	defer closeRegistry()
	logger.Info("Registry initialized", "backend", cfg.Registry.Backend)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		registry = cache.NewCachedRegistry(registry, redisClient, registryCacheTTL, logger)
		logger.Info("Registry upgraded", "type", "redis_cached_"+cfg.Registry.Backend)
	}

	// --- Senders ---
	senders, err := newSenders(ctx, cfg, logger)
	if err != nil {
		logger.Error("Sender setup failed", "err", err)
		os.Exit(1)
	}

	// --- Gateway and Pusher ---
	gw := hub.New(registry, senders, logger)
	defer gw.Close()

	p := pusher.New(gw, pusher.Options{
		AccountPrefix:  cfg.Pusher.AccountPrefix,
		CustomKey:      cfg.Pusher.CustomKey,
		Environment:    gateway.ParseEnvironment(cfg.Pusher.Environment),
		MaxConcurrency: cfg.Pusher.MaxConcurrency,
	}, logger)
	logger.Info("Pusher ready", "environment", p.Environment().String())

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT discovery failed", "identity_url", identityURL, "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer setup failed", "err", err)
		os.Exit(1)
	}

	service, err := pushservice.New(cfg, consumer, registry, p, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}
}

func newRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.Registry, func(), error) {
	switch cfg.Registry.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory registry; devices are lost on restart")
		return memory.New(), func() {}, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Registry.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		reg := pgRegistry.New(pool)
		if err := reg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return reg, pool.Close, nil

	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		closeFn := func() { _ = fsClient.Close() }
		return fsRegistry.NewFirestoreRegistry(fsClient, cfg.Registry.FirestoreCollection), closeFn, nil
	}
}

// newSenders wires one Sender per configured platform. Android is always on;
// iOS and web are skipped with a warning when unconfigured.
func newSenders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[dispatch.Platform]dispatch.Sender, error) {
	senders := make(map[dispatch.Platform]dispatch.Sender)

	// A. Android (FCM)
	var opts []option.ClientOption
	if cfg.FCM.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FCM.CredentialsFile))
	}
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm messaging client: %w", err)
	}
	senders[dispatch.PlatformAndroid] = fcm.NewSender(fcmMessaging, logger)

	// B. iOS (APNs)
	if cfg.APNS.Enabled() {
		keyContent, err := os.ReadFile(cfg.APNS.P8KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read apns key: %w", err)
		}
		apnsSender, err := apns.NewSender(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: keyContent,
		}, logger)
		if err != nil {
			return nil, err
		}
		senders[dispatch.PlatformIOS] = apnsSender
	} else {
		logger.Warn("APNs not configured. iOS devices will count as failed.")
	}

	// C. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web devices will count as failed.")
	} else {
		senders[dispatch.PlatformWeb] = web.NewSender(web.Config{
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
		}, nil, logger)
		logger.Info("Web sender enabled", "public_key", cfg.Vapid.PublicKey)
	}

	return senders, nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 30,
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
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
