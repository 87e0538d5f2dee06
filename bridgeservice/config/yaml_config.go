package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

// YamlConfig mirrors the raw config yaml file.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	PublicBaseURL          string          `yaml:"public_base_url"`
	SessionTTL             string          `yaml:"session_ttl"`
	JanitorInterval        string          `yaml:"janitor_interval"`
	OutcomeCacheTTL        string          `yaml:"outcome_cache_ttl"`
	OutcomeTopicID         string          `yaml:"outcome_topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
	IdentityServiceURL     string          `yaml:"identity_service_url"`
	FCMEnabled             bool            `yaml:"fcm_enabled"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	VapidConfig            YamlVapidConfig `yaml:"vapid"`
	APNSConfig             YamlAPNSConfig  `yaml:"apns"`
}

func parseOptionalDuration(field, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, val, err)
	}
	return d, nil
}

// NewConfigFromYaml converts the YamlConfig into a base Config. Secrets (the
// APNs key) only come from the environment.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	sessionTTL, err := parseOptionalDuration("session_ttl", baseCfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	janitorInterval, err := parseOptionalDuration("janitor_interval", baseCfg.JanitorInterval)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseOptionalDuration("outcome_cache_ttl", baseCfg.OutcomeCacheTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		PublicBaseURL:          baseCfg.PublicBaseURL,
		SessionTTL:             sessionTTL,
		JanitorInterval:        janitorInterval,
		OutcomeCacheTTL:        cacheTTL,
		OutcomeTopicID:         baseCfg.OutcomeTopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		IdentityServiceURL:     baseCfg.IdentityServiceURL,
		FCMEnabled:             baseCfg.FCMEnabled,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			KeyID:    baseCfg.APNSConfig.KeyID,
			TeamID:   baseCfg.APNSConfig.TeamID,
			BundleID: baseCfg.APNSConfig.BundleID,
			Sandbox:  baseCfg.APNSConfig.Sandbox,
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"outcome_topic_id", cfg.OutcomeTopicID,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
