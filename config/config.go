package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Clobrelay  ClobrelayConfig  `yaml:"clobrelay"`
	Feed       FeedConfig       `yaml:"feed"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Store      StoreConfig      `yaml:"store"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ClobrelayConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	URL                  string        `yaml:"url"`
	APIKey               string        `yaml:"api_key"`
	APISecret            string        `yaml:"api_secret"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SubscribesPerSecond  int           `yaml:"subscribes_per_second"`
	SubscribeBurst       int           `yaml:"subscribe_burst"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type ProcessorConfig struct {
	MaxWorkers        int           `yaml:"max_workers"`
	OrderbookDepth    int           `yaml:"orderbook_depth"`
	TradeHistoryLimit int64         `yaml:"trade_history_limit"`
	RecordTTL         time.Duration `yaml:"record_ttl"`
}

type StoreConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Password         string `yaml:"password"`
	Database         int    `yaml:"database"`
	SubscriptionsKey string `yaml:"subscriptions_key"`
}

type ReconcilerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultConfigPath is the configuration file used when no explicit path is
// given and no environment specific file applies.
const DefaultConfigPath = "config/config.yml"

// LoadConfig reads the yaml configuration, applies defaults, overlays
// environment variables and validates the result. When APP_ENV names a
// production-like environment and the caller passed the default path, the
// environment specific file is loaded instead. The feed credentials are only
// accepted from the environment so they never land in a checked-in file.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)

	if v := os.Getenv("FEED_URL"); v != "" {
		config.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		config.Feed.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEED_API_SECRET"); v != "" {
		config.Feed.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		config.Store.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			config.Store.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Store.Password = v
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Feed.HandshakeTimeout <= 0 {
		cfg.Feed.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Feed.PingInterval <= 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Feed.ReconnectDelay <= 0 {
		cfg.Feed.ReconnectDelay = 5 * time.Second
	}
	if cfg.Feed.MaxReconnectAttempts <= 0 {
		cfg.Feed.MaxReconnectAttempts = 10
	}
	if cfg.Feed.SubscribesPerSecond <= 0 {
		cfg.Feed.SubscribesPerSecond = 20
	}
	if cfg.Feed.SubscribeBurst <= 0 {
		cfg.Feed.SubscribeBurst = cfg.Feed.SubscribesPerSecond
	}
	if cfg.Channels.RawBuffer <= 0 {
		cfg.Channels.RawBuffer = 1024
	}
	if cfg.Processor.MaxWorkers <= 0 {
		cfg.Processor.MaxWorkers = 1
	}
	if cfg.Processor.OrderbookDepth <= 0 {
		cfg.Processor.OrderbookDepth = 10
	}
	if cfg.Processor.TradeHistoryLimit <= 0 {
		cfg.Processor.TradeHistoryLimit = 100
	}
	if cfg.Processor.RecordTTL <= 0 {
		cfg.Processor.RecordTTL = 60 * time.Second
	}
	if cfg.Store.Host == "" {
		cfg.Store.Host = "localhost"
	}
	if cfg.Store.Port <= 0 {
		cfg.Store.Port = 6379
	}
	if cfg.Store.SubscriptionsKey == "" {
		cfg.Store.SubscriptionsKey = "ws-subscriptions"
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	// Production-like environments keep machine-readable logs.
	if cfg.Logging.Format == "" {
		if IsProductionLike(getAppEnvironment()) {
			cfg.Logging.Format = "json"
		} else {
			cfg.Logging.Format = "text"
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Clobrelay.Name == "" {
		return fmt.Errorf("clobrelay.name is required")
	}

	if cfg.Clobrelay.Version == "" {
		return fmt.Errorf("clobrelay.version is required")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if !strings.HasPrefix(cfg.Feed.URL, "ws://") && !strings.HasPrefix(cfg.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url '%s' must be a ws:// or wss:// endpoint", cfg.Feed.URL)
	}

	if cfg.Feed.APIKey == "" {
		return fmt.Errorf("feed.api_key is required (set FEED_API_KEY)")
	}

	if cfg.Feed.APISecret == "" {
		return fmt.Errorf("feed.api_secret is required (set FEED_API_SECRET)")
	}

	return nil
}
