package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidateServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate in serve mode: %v", err)
	}
}

func TestValidateRequiresFeedCredentialForFullMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error without feed credentials")
	}
	if !strings.Contains(err.Error(), "feed:") {
		t.Fatalf("expected feed error, got: %v", err)
	}

	cfg.Feed.ApiKey = "demo"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with api key set: %v", err)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("expected unknown mode error, got: %v", err)
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"redis: addr", "server: port"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALERTPOOL_POSTGRES_HOST", "db.internal")
	t.Setenv("ALERTPOOL_POOL_DEFAULT_PERCENT", "12.5")
	t.Setenv("ALERTPOOL_FEED_POLL_INTERVAL", "30s")
	t.Setenv("ALERTPOOL_SERVER_API_KEYS", "key-a, key-b")
	t.Setenv("ALERTPOOL_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("host = %q", cfg.Postgres.Host)
	}
	if cfg.Pool.DefaultPercent != 12.5 {
		t.Errorf("default percent = %g", cfg.Pool.DefaultPercent)
	}
	if cfg.Feed.PollInterval.Duration != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.Feed.PollInterval.Duration)
	}
	if len(cfg.Server.APIKeys) != 2 || cfg.Server.APIKeys[1] != "key-b" {
		t.Errorf("api keys = %v", cfg.Server.APIKeys)
	}
	if cfg.Postgres.RunMigrations {
		t.Error("run_migrations should be overridden to false")
	}
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Feed.ApiKey = "feed-secret"
	cfg.Server.APIKeys = []string{"tok1"}
	cfg.Server.WebhookSecret = "whsec"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.Feed.ApiKey != "***" || red.Server.WebhookSecret != "***" {
		t.Error("secrets not redacted")
	}
	if red.Server.APIKeys[0] != "***" {
		t.Errorf("api keys not redacted: %v", red.Server.APIKeys)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("original config mutated")
	}
}
