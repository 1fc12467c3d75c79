package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `clobrelay:
  name: "TestRelay"
  version: "1.0"
feed:
  url: "wss://example.com/ws"
store:
  host: "localhost"
  port: 6379
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("FEED_API_KEY", "key")
	t.Setenv("FEED_API_SECRET", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Clobrelay.Name != "TestRelay" {
		t.Errorf("unexpected name: %s", cfg.Clobrelay.Name)
	}
	if cfg.Feed.APIKey != "key" || cfg.Feed.APISecret != "secret" {
		t.Errorf("credentials not taken from environment")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("FEED_API_KEY", "key")
	t.Setenv("FEED_API_SECRET", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Feed.PingInterval != 30*time.Second {
		t.Errorf("unexpected ping interval: %v", cfg.Feed.PingInterval)
	}
	if cfg.Feed.ReconnectDelay != 5*time.Second {
		t.Errorf("unexpected reconnect delay: %v", cfg.Feed.ReconnectDelay)
	}
	if cfg.Feed.MaxReconnectAttempts != 10 {
		t.Errorf("unexpected max reconnect attempts: %d", cfg.Feed.MaxReconnectAttempts)
	}
	if cfg.Reconciler.Interval != 10*time.Second {
		t.Errorf("unexpected reconciler interval: %v", cfg.Reconciler.Interval)
	}
	if cfg.Processor.OrderbookDepth != 10 {
		t.Errorf("unexpected orderbook depth: %d", cfg.Processor.OrderbookDepth)
	}
	if cfg.Processor.TradeHistoryLimit != 100 {
		t.Errorf("unexpected trade history limit: %d", cfg.Processor.TradeHistoryLimit)
	}
	if cfg.Processor.RecordTTL != 60*time.Second {
		t.Errorf("unexpected record ttl: %v", cfg.Processor.RecordTTL)
	}
	if cfg.Store.SubscriptionsKey != "ws-subscriptions" {
		t.Errorf("unexpected subscriptions key: %s", cfg.Store.SubscriptionsKey)
	}
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("FEED_API_KEY", "")
	t.Setenv("FEED_API_SECRET", "")

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing credentials")
	}

	t.Setenv("FEED_API_KEY", "key")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error when only one credential is present")
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")

	if got := resolveEnvSpecificPath("", DefaultConfigPath, envConfigPaths); got != "config/config.production.yml" {
		t.Errorf("empty path should resolve to production config, got %s", got)
	}
	if got := resolveEnvSpecificPath(DefaultConfigPath, DefaultConfigPath, envConfigPaths); got != "config/config.production.yml" {
		t.Errorf("default path should resolve to production config, got %s", got)
	}
	if got := resolveEnvSpecificPath("/tmp/custom.yml", DefaultConfigPath, envConfigPaths); got != "/tmp/custom.yml" {
		t.Errorf("explicit path must win, got %s", got)
	}

	t.Setenv("APP_ENV", "")
	if got := resolveEnvSpecificPath("", DefaultConfigPath, envConfigPaths); got != DefaultConfigPath {
		t.Errorf("development should keep the default path, got %s", got)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "stagging")
	if got := AppEnvironment(); got != EnvironmentStaging {
		t.Errorf("alias not normalised: %s", got)
	}

	t.Setenv("APP_ENV", "")
	if got := AppEnvironment(); got != EnvironmentDevelopment {
		t.Errorf("unexpected default environment: %s", got)
	}

	if !IsProductionLike(EnvironmentProduction) || !IsProductionLike(EnvironmentStaging) {
		t.Errorf("production and staging must be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Errorf("development must not be production-like")
	}
}

func TestLoggingFormatFollowsEnvironment(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	t.Setenv("FEED_API_KEY", "key")
	t.Setenv("FEED_API_SECRET", "secret")

	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("production should default to json logs, got %s", cfg.Logging.Format)
	}

	t.Setenv("APP_ENV", "development")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("development should default to text logs, got %s", cfg.Logging.Format)
	}
}

func TestValidateConfigRejectsBadURL(t *testing.T) {
	cfg := &Config{
		Clobrelay: ClobrelayConfig{Name: "r", Version: "1"},
		Feed:      FeedConfig{URL: "https://example.com", APIKey: "k", APISecret: "s"},
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("expected error for non-websocket url")
	}
}
