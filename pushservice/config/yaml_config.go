package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlPusherConfig struct {
	Environment    string `yaml:"environment"`
	CustomKey      string `yaml:"custom_key"`
	AccountPrefix  string `yaml:"account_prefix"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

type YamlRegistryConfig struct {
	Backend             string `yaml:"backend"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlFCMConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

type YamlAPNSConfig struct {
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyPath string `yaml:"p8_key_path"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	PusherConfig           YamlPusherConfig   `yaml:"pusher"`
	RegistryConfig         YamlRegistryConfig `yaml:"registry"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
	FCMConfig              YamlFCMConfig      `yaml:"fcm"`
	APNSConfig             YamlAPNSConfig     `yaml:"apns"`
	VapidConfig            YamlVapidConfig    `yaml:"vapid"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Pusher: PusherConfig{
			Environment:    baseCfg.PusherConfig.Environment,
			CustomKey:      baseCfg.PusherConfig.CustomKey,
			AccountPrefix:  baseCfg.PusherConfig.AccountPrefix,
			MaxConcurrency: baseCfg.PusherConfig.MaxConcurrency,
		},
		Registry: RegistryConfig{
			Backend:             baseCfg.RegistryConfig.Backend,
			PostgresDSN:         baseCfg.RegistryConfig.PostgresDSN,
			FirestoreCollection: baseCfg.RegistryConfig.FirestoreCollection,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		FCM: FCMConfig{
			CredentialsFile: baseCfg.FCMConfig.CredentialsFile,
		},
		APNS: APNSConfig{
			KeyID:     baseCfg.APNSConfig.KeyID,
			TeamID:    baseCfg.APNSConfig.TeamID,
			BundleID:  baseCfg.APNSConfig.BundleID,
			P8KeyPath: baseCfg.APNSConfig.P8KeyPath,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"registry", cfg.Registry.Backend,
	)

	return cfg, nil
}
