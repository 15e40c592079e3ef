package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Registry backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

const (
	DefaultCustomKey     = "custom"
	DefaultAccountPrefix = "user"
)

type PusherConfig struct {
	// Environment is "production" or anything else for development.
	Environment    string
	CustomKey      string
	AccountPrefix  string
	MaxConcurrency int
}

type RegistryConfig struct {
	Backend             string
	PostgresDSN         string
	FirestoreCollection string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type FCMConfig struct {
	// CredentialsFile is a service account JSON file. Empty uses application default credentials.
	CredentialsFile string
}

type APNSConfig struct {
	KeyID     string
	TeamID    string
	BundleID  string
	P8KeyPath string
}

// Enabled reports whether every APNs setting is present.
func (c APNSConfig) Enabled() bool {
	return c.KeyID != "" && c.TeamID != "" && c.BundleID != "" && c.P8KeyPath != ""
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Pusher     PusherConfig
	Registry   RegistryConfig
	Redis      RedisConfig
	FCM        FCMConfig
	APNS       APNSConfig
	Vapid      VapidConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			*dst = val
		}
	}
	overrideInt := func(key string, dst *int, min int) {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil && n >= min {
				logger.Debug("Overriding config value", "key", key, "source", "env")
				*dst = n
			}
		}
	}

	// 1. Service
	override("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	override("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	override("TOPIC_ID", &cfg.TopicID)
	overrideInt("NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers, 1)

	// 2. Pusher
	override("APP_ENV", &cfg.Pusher.Environment)
	override("PUSH_ENVIRONMENT", &cfg.Pusher.Environment)
	override("PUSH_CUSTOM_KEY", &cfg.Pusher.CustomKey)
	override("PUSH_ACCOUNT_PREFIX", &cfg.Pusher.AccountPrefix)
	overrideInt("PUSH_MAX_CONCURRENCY", &cfg.Pusher.MaxConcurrency, 1)

	// 3. Registry and cache
	override("REGISTRY_BACKEND", &cfg.Registry.Backend)
	override("POSTGRES_DSN", &cfg.Registry.PostgresDSN)
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	override("REDIS_PASSWORD", &cfg.Redis.Password)
	overrideInt("REDIS_DB", &cfg.Redis.DB, 0)
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// 4. Platforms
	override("FCM_CREDENTIALS_FILE", &cfg.FCM.CredentialsFile)
	override("APNS_KEY_ID", &cfg.APNS.KeyID)
	override("APNS_TEAM_ID", &cfg.APNS.TeamID)
	override("APNS_BUNDLE_ID", &cfg.APNS.BundleID)
	override("APNS_P8_KEY_PATH", &cfg.APNS.P8KeyPath)
	override("VAPID_PUBLIC_KEY", &cfg.Vapid.PublicKey)
	override("VAPID_PRIVATE_KEY", &cfg.Vapid.PrivateKey)
	override("VAPID_SUB_EMAIL", &cfg.Vapid.SubscriberEmail)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 5. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	switch cfg.Registry.Backend {
	case "":
		cfg.Registry.Backend = BackendFirestore
	case BackendMemory, BackendFirestore:
	case BackendPostgres:
		if cfg.Registry.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres registry requires postgres_dsn (or POSTGRES_DSN env var)")
		}
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Pusher.MaxConcurrency <= 0 {
		cfg.Pusher.MaxConcurrency = 1
	}
	if cfg.Pusher.CustomKey == "" {
		cfg.Pusher.CustomKey = DefaultCustomKey
	}
	if cfg.Pusher.AccountPrefix == "" {
		cfg.Pusher.AccountPrefix = DefaultAccountPrefix
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
