package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "DEPTHWATCH_"

// Load merges the TOML file at path over Defaults() and applies DEPTHWATCH_*
// overrides, reading a .env file first when one exists. A missing file at
// path is not an error so that env-only deployments work. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		default:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose DEPTHWATCH_* variable is set and
// non-empty. Unparsable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// binance
	setStr(&cfg.Binance.RestURL, "BINANCE_REST_URL")
	setStr(&cfg.Binance.WsURL, "BINANCE_WS_URL")
	setInt(&cfg.Binance.RestRatePerMinute, "BINANCE_REST_RATE_PER_MINUTE")
	setDuration(&cfg.Binance.RestQueueTimeout, "BINANCE_REST_QUEUE_TIMEOUT")
	setDuration(&cfg.Binance.ReconnectInitial, "BINANCE_RECONNECT_INITIAL")
	setDuration(&cfg.Binance.ReconnectMax, "BINANCE_RECONNECT_MAX")
	setInt(&cfg.Binance.MaxReconnectAttempts, "BINANCE_MAX_RECONNECT_ATTEMPTS")

	// subscription, book, metrics
	setInt(&cfg.Subscription.MaxSubscriptions, "SUBSCRIPTION_MAX_SUBSCRIPTIONS")
	setDuration(&cfg.Subscription.IdleTimeout, "SUBSCRIPTION_IDLE_TIMEOUT")
	setStringSlice(&cfg.Subscription.Symbols, "SUBSCRIPTION_SYMBOLS")
	setDuration(&cfg.Book.StalenessThreshold, "BOOK_STALENESS_THRESHOLD")
	setFloat64(&cfg.Metrics.WallMultiplier, "METRICS_WALL_MULTIPLIER")
	setInt(&cfg.Metrics.ImbalanceDepth, "METRICS_IMBALANCE_DEPTH")

	// storage
	setStr(&cfg.Storage.Path, "STORAGE_PATH")
	setBool(&cfg.Storage.InMemory, "STORAGE_IN_MEMORY")
	setDuration(&cfg.Storage.Retention, "STORAGE_RETENTION")
	setDuration(&cfg.Storage.SnapshotInterval, "STORAGE_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Storage.TradeFlushInterval, "STORAGE_TRADE_FLUSH_INTERVAL")
	setDuration(&cfg.Storage.SweepInterval, "STORAGE_SWEEP_INTERVAL")

	// analytics, alerts
	setFloat64(&cfg.Analytics.ValueAreaPct, "ANALYTICS_VALUE_AREA_PCT")
	setFloat64(&cfg.Analytics.TickSize, "ANALYTICS_TICK_SIZE")
	setInt(&cfg.Analytics.MinProfileTrades, "ANALYTICS_MIN_PROFILE_TRADES")
	setDuration(&cfg.Analytics.ReportCacheTTL, "ANALYTICS_REPORT_CACHE_TTL")
	setBool(&cfg.Alerts.Enabled, "ALERTS_ENABLED")
	setDuration(&cfg.Alerts.Interval, "ALERTS_INTERVAL")

	// redis
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// postgres
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// s3
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// kafka
	setBool(&cfg.Kafka.Enabled, "KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "KAFKA_TOPIC")

	// server, notify
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
