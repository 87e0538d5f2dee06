package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	DefaultListenAddr      = ":8080"
	DefaultSessionTTL      = 30 * time.Minute
	DefaultJanitorInterval = time.Minute
	DefaultOutcomeCacheTTL = 24 * time.Hour
	DefaultIdentityURL     = "http://localhost:3000"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

// Enabled reports whether enough credentials are present to build a client.
func (a APNSConfig) Enabled() bool {
	return a.KeyID != "" && a.TeamID != "" && a.BundleID != "" && a.P8KeyContent != ""
}

// Config is the resolved configuration of the bridge service. An empty
// ProjectID runs the service without Google Cloud: outcomes are kept in memory
// and no events are published or consumed.
type Config struct {
	ProjectID     string
	ListenAddr    string
	PublicBaseURL string

	SessionTTL      time.Duration
	JanitorInterval time.Duration
	OutcomeCacheTTL time.Duration

	OutcomeTopicID         string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	IdentityServiceURL string
	FCMEnabled         bool

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether the service consumes outcome events.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

func lookupDuration(key string, logger *slog.Logger) (time.Duration, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		logger.Warn("Ignoring invalid duration override", "key", key, "value", val)
		return 0, false
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	return d, true
}

// UpdateConfigWithEnvOverrides applies environment variables, defaults and
// final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("PUBLIC_BASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "PUBLIC_BASE_URL", "source", "env")
		cfg.PublicBaseURL = val
	}
	if val := os.Getenv("OUTCOME_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "OUTCOME_TOPIC_ID", "source", "env")
		cfg.OutcomeTopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if d, ok := lookupDuration("SESSION_TTL", logger); ok {
		cfg.SessionTTL = d
	}
	if d, ok := lookupDuration("JANITOR_INTERVAL", logger); ok {
		cfg.JanitorInterval = d
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("FCM_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.FCMEnabled = enabled
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// APNs
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

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

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorInterval
	}
	if cfg.OutcomeCacheTTL <= 0 {
		cfg.OutcomeCacheTTL = DefaultOutcomeCacheTTL
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = DefaultIdentityURL
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	// Validation
	if cfg.ProjectID == "" && (cfg.OutcomeTopicID != "" || cfg.SubscriptionID != "") {
		return nil, fmt.Errorf("project_id is required when outcome_topic_id or subscription_id is set")
	}
	if cfg.SubscriptionID != "" && cfg.OutcomeTopicID == "" {
		return nil, fmt.Errorf("outcome_topic_id is required when subscription_id is set")
	}
	if cfg.SubscriptionID != "" && cfg.SubscriptionDLQTopicID == "" {
		return nil, fmt.Errorf("subscription_dlq_topic_id is required when subscription_id is set")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required when redis is enabled")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
