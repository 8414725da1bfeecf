package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ALERTPOOL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ALERTPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Pool ──
	setFloat64(&cfg.Pool.DefaultPercent, "ALERTPOOL_POOL_DEFAULT_PERCENT")
	setDuration(&cfg.Pool.LockTTL, "ALERTPOOL_POOL_LOCK_TTL")
	setInt(&cfg.Pool.LockRetries, "ALERTPOOL_POOL_LOCK_RETRIES")
	setDuration(&cfg.Pool.LockRetryDelay, "ALERTPOOL_POOL_LOCK_RETRY_DELAY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ALERTPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "ALERTPOOL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ALERTPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ALERTPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ALERTPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ALERTPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ALERTPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ALERTPOOL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ALERTPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ALERTPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ALERTPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ALERTPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ALERTPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ALERTPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ALERTPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ALERTPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ALERTPOOL_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "ALERTPOOL_REDIS_PRICE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ALERTPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ALERTPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "ALERTPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ALERTPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ALERTPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ALERTPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ALERTPOOL_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.BaseURL, "ALERTPOOL_FEED_BASE_URL")
	setStr(&cfg.Feed.ApiKey, "ALERTPOOL_FEED_API_KEY")
	setStr(&cfg.Feed.EncryptedKeyPath, "ALERTPOOL_FEED_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Feed.KeyPassword, "ALERTPOOL_FEED_KEY_PASSWORD")
	setDuration(&cfg.Feed.PollInterval, "ALERTPOOL_FEED_POLL_INTERVAL")
	setDuration(&cfg.Feed.OffHoursInterval, "ALERTPOOL_FEED_OFF_HOURS_INTERVAL")
	setDuration(&cfg.Feed.RequestTimeout, "ALERTPOOL_FEED_REQUEST_TIMEOUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ALERTPOOL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ALERTPOOL_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "ALERTPOOL_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ALERTPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ALERTPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ALERTPOOL_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "ALERTPOOL_SERVER_API_KEYS")
	setStr(&cfg.Server.WebhookSecret, "ALERTPOOL_SERVER_WEBHOOK_SECRET")
	setInt(&cfg.Server.RateLimit, "ALERTPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ALERTPOOL_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ALERTPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ALERTPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ALERTPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ALERTPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ALERTPOOL_MODE")
	setStr(&cfg.LogLevel, "ALERTPOOL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
