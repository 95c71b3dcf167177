// Package config loads the service configuration from YAML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultReadTimeoutSeconds is the default read timeout in seconds
	DefaultReadTimeoutSeconds = 10
	// DefaultWriteTimeoutSeconds is the default write timeout in seconds
	DefaultWriteTimeoutSeconds = 30
)

type Config struct {
	Debug     bool            `yaml:"debug"` // Application debug mode (controls log level and format)
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Affiliate AffiliateConfig `yaml:"affiliate"`
}

type ServerConfig struct {
	Address      string        `yaml:"address"`       // e.g., ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 30s
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"` // Disabled runs the affiliate cache local-only
}

type PipelineConfig struct {
	WorkerLimit   int           `yaml:"worker_limit"`   // Max concurrent offers in a batch
	MaxRetries    int           `yaml:"max_retries"`    // Retry attempts for rate limited offers
	DedupTTL      time.Duration `yaml:"dedup_ttl"`      // How long admitted offers block duplicates
	CacheTTL      time.Duration `yaml:"cache_ttl"`      // Affiliate link cache validity
	FailurePolicy string        `yaml:"failure_policy"` // "open" or "closed"
}

type AffiliateConfig struct {
	AmazonTag       string `yaml:"amazon_tag"`
	MercadoLivreTag string `yaml:"mercadolivre_tag"`
	MagaluStore     string `yaml:"magalu_store"`
	AwinAffiliateID string `yaml:"awin_affiliate_id"`
}

// Validate checks if the server configuration is valid and sets defaults.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	return nil
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis.enabled is true")
	}
	if c.Pipeline.FailurePolicy != "open" && c.Pipeline.FailurePolicy != "closed" {
		return fmt.Errorf("pipeline.failure_policy must be open or closed, got %q", c.Pipeline.FailurePolicy)
	}
	if c.Affiliate.AmazonTag == "" {
		return errors.New("affiliate.amazon_tag is required")
	}
	if c.Affiliate.MercadoLivreTag == "" {
		return errors.New("affiliate.mercadolivre_tag is required")
	}
	if c.Affiliate.MagaluStore == "" {
		return errors.New("affiliate.magalu_store is required")
	}
	if c.Affiliate.AwinAffiliateID == "" {
		return errors.New("affiliate.awin_affiliate_id is required")
	}
	return nil
}

// setDefaults sets default values for configuration fields
func setDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	if cfg.Pipeline.WorkerLimit == 0 {
		cfg.Pipeline.WorkerLimit = 10
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.DedupTTL == 0 {
		cfg.Pipeline.DedupTTL = 24 * time.Hour
	}
	if cfg.Pipeline.CacheTTL == 0 {
		cfg.Pipeline.CacheTTL = 7 * 24 * time.Hour
	}
	if cfg.Pipeline.FailurePolicy == "" {
		cfg.Pipeline.FailurePolicy = "open"
	}
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(cfg *Config) {
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
		cfg.Redis.Enabled = true
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if amazonTag := os.Getenv("AMAZON_TAG"); amazonTag != "" {
		cfg.Affiliate.AmazonTag = amazonTag
	}
	if awinID := os.Getenv("AWIN_AFFILIATE_ID"); awinID != "" {
		cfg.Affiliate.AwinAffiliateID = awinID
	}
	if appDebug := os.Getenv("APP_DEBUG"); appDebug != "" {
		cfg.Debug = parseBool(appDebug)
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)
	overrideWithEnvVars(&cfg)

	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("server config validation: %w", err)
	}

	// Override server config with environment variable if present
	if port := os.Getenv("DEALGATE_PORT"); port != "" {
		if _, convErr := strconv.Atoi(port); convErr != nil {
			return nil, fmt.Errorf("invalid DEALGATE_PORT %q", port)
		}
		cfg.Server.Address = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
