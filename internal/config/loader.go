package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VESTD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VESTD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "VESTD_DATABASE_DSN")
	setStr(&cfg.Database.Host, "VESTD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "VESTD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "VESTD_DATABASE_NAME")
	setStr(&cfg.Database.User, "VESTD_DATABASE_USER")
	setStr(&cfg.Database.Password, "VESTD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "VESTD_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "VESTD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "VESTD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "VESTD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VESTD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VESTD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VESTD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VESTD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VESTD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VESTD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "VESTD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VESTD_S3_REGION")
	setStr(&cfg.S3.Bucket, "VESTD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VESTD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VESTD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VESTD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VESTD_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "VESTD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VESTD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VESTD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VESTD_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "VESTD_NOTIFY_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VESTD_NOTIFY_EVENTS")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "VESTD_ARCHIVE_RETENTION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VESTD_MODE")
	setStr(&cfg.LogLevel, "VESTD_LOG_LEVEL")
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
