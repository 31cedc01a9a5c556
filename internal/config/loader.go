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
// built-in defaults, applies NIFTYFLOW_* environment variable overrides, and
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

// applyEnvOverrides reads well-known NIFTYFLOW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. The daily broker access token in particular always arrives
// this way.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "NIFTYFLOW_BROKER_BASE_URL")
	setStr(&cfg.Broker.WsURL, "NIFTYFLOW_BROKER_WS_URL")
	setStr(&cfg.Broker.ApiKey, "NIFTYFLOW_BROKER_API_KEY")
	setStr(&cfg.Broker.AccessToken, "NIFTYFLOW_BROKER_ACCESS_TOKEN")
	setDuration(&cfg.Broker.Timeout, "NIFTYFLOW_BROKER_TIMEOUT")
	setBool(&cfg.Broker.RateLimited, "NIFTYFLOW_BROKER_RATE_LIMITED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NIFTYFLOW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NIFTYFLOW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NIFTYFLOW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NIFTYFLOW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NIFTYFLOW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NIFTYFLOW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NIFTYFLOW_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NIFTYFLOW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NIFTYFLOW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NIFTYFLOW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NIFTYFLOW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NIFTYFLOW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NIFTYFLOW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NIFTYFLOW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NIFTYFLOW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NIFTYFLOW_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NIFTYFLOW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NIFTYFLOW_S3_REGION")
	setStr(&cfg.S3.Bucket, "NIFTYFLOW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NIFTYFLOW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NIFTYFLOW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NIFTYFLOW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NIFTYFLOW_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "NIFTYFLOW_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "NIFTYFLOW_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "NIFTYFLOW_ARCHIVE_RETENTION_DAYS")

	// ── Engine ──
	setInt64Slice(&cfg.Engine.Users, "NIFTYFLOW_ENGINE_USERS")
	setStr(&cfg.Engine.Underlying, "NIFTYFLOW_ENGINE_UNDERLYING")
	setStr(&cfg.Engine.SpotSymbol, "NIFTYFLOW_ENGINE_SPOT_SYMBOL")
	setInt(&cfg.Engine.LookbackDays, "NIFTYFLOW_ENGINE_LOOKBACK_DAYS")
	setDuration(&cfg.Engine.LockTTL, "NIFTYFLOW_ENGINE_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NIFTYFLOW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NIFTYFLOW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NIFTYFLOW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NIFTYFLOW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NIFTYFLOW_MODE")
	setStr(&cfg.LogLevel, "NIFTYFLOW_LOG_LEVEL")
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

func setInt64Slice(dst *[]int64, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]int64, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			n, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				continue
			}
			cleaned = append(cleaned, n)
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
