// Package config defines the depthwatch configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// over Defaults() and then overridden by DEPTHWATCH_* environment variables.
type Config struct {
	Binance      BinanceConfig      `toml:"binance"`
	Subscription SubscriptionConfig `toml:"subscription"`
	Book         BookConfig         `toml:"book"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Storage      StorageConfig      `toml:"storage"`
	Analytics    AnalyticsConfig    `toml:"analytics"`
	Alerts       AlertsConfig       `toml:"alerts"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	S3           S3Config           `toml:"s3"`
	Kafka        KafkaConfig        `toml:"kafka"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// BinanceConfig holds upstream endpoints and the reconnect policy.
type BinanceConfig struct {
	RestURL              string   `toml:"rest_url"`
	WsURL                string   `toml:"ws_url"`
	RestRatePerMinute    int      `toml:"rest_rate_per_minute"`
	RestQueueTimeout     duration `toml:"rest_queue_timeout"`
	RestTimeout          duration `toml:"rest_timeout"`
	ReconnectInitial     duration `toml:"reconnect_initial"`
	ReconnectMax         duration `toml:"reconnect_max"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
}

// SubscriptionConfig bounds the tracked symbol set.
type SubscriptionConfig struct {
	MaxSubscriptions  int      `toml:"max_subscriptions"`
	DepthLimit        int      `toml:"depth_limit"`
	IdleTimeout       duration `toml:"idle_timeout"`
	MaxResyncAttempts int      `toml:"max_resync_attempts"`
	// Symbols are subscribed at startup and never reaped.
	Symbols []string `toml:"symbols"`
}

// BookConfig tunes the live book.
type BookConfig struct {
	StalenessThreshold duration `toml:"staleness_threshold"`
}

// MetricsConfig tunes L1 derivation.
type MetricsConfig struct {
	WallMultiplier    float64   `toml:"wall_multiplier"`
	ImbalanceDepth    int       `toml:"imbalance_depth"`
	SlippageNotionals []float64 `toml:"slippage_notionals"`
}

// StorageConfig controls the time-series store and its background tasks.
type StorageConfig struct {
	Path               string   `toml:"path"`
	InMemory           bool     `toml:"in_memory"`
	SyncWrites         bool     `toml:"sync_writes"`
	Retention          duration `toml:"retention"`
	SnapshotInterval   duration `toml:"snapshot_interval"`
	TradeFlushInterval duration `toml:"trade_flush_interval"`
	SweepInterval      duration `toml:"sweep_interval"`
}

// AnalyticsConfig holds analytics thresholds.
type AnalyticsConfig struct {
	MinProfileTrades   int      `toml:"min_profile_trades"`
	ValueAreaPct       float64  `toml:"value_area_pct"`
	TickSize           float64  `toml:"tick_size"`
	AnomalyWindow      duration `toml:"anomaly_window"`
	HealthWindow       duration `toml:"health_window"`
	VacuumThreshold    float64  `toml:"vacuum_threshold"`
	QuoteStuffingRate  float64  `toml:"quote_stuffing_rate"`
	MaxFillRate        float64  `toml:"max_fill_rate"`
	IcebergMultiplier  float64  `toml:"iceberg_multiplier"`
	FlashDepthLossPct  float64  `toml:"flash_depth_loss_pct"`
	FlashSpreadMult    float64  `toml:"flash_spread_mult"`
	FlashCancelRatePct float64  `toml:"flash_cancel_rate_pct"`
	FlashCrashMoveBps  float64  `toml:"flash_crash_move_bps"`
	DegradedBelow      float64  `toml:"degraded_below"`
	PoorBelow          float64  `toml:"poor_below"`
	QueryTimeout       duration `toml:"query_timeout"`
	// ReportCacheTTL is how long a generated market report is reused.
	ReportCacheTTL     duration `toml:"report_cache_ttl"`
}

// AlertsConfig drives the anomaly watcher.
type AlertsConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Cooldown duration `toml:"cooldown"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	BookTTL    duration `toml:"book_ttl"`
}

// PostgresConfig holds event journal connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds retention archive parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds snapshot fan-out parameters.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit applies per client IP and only when redis is enabled.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the stock configuration. These match config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			RestURL:              "https://api.binance.com",
			WsURL:                "wss://stream.binance.com:9443",
			RestRatePerMinute:    1000,
			RestQueueTimeout:     duration{30 * time.Second},
			RestTimeout:          duration{10 * time.Second},
			ReconnectInitial:     duration{time.Second},
			ReconnectMax:         duration{60 * time.Second},
			MaxReconnectAttempts: 10,
		},
		Subscription: SubscriptionConfig{
			MaxSubscriptions:  20,
			DepthLimit:        100,
			IdleTimeout:       duration{30 * time.Minute},
			MaxResyncAttempts: 3,
		},
		Book: BookConfig{
			StalenessThreshold: duration{5 * time.Second},
		},
		Metrics: MetricsConfig{
			WallMultiplier:    5,
			ImbalanceDepth:    20,
			SlippageNotionals: []float64{10_000, 25_000, 50_000},
		},
		Storage: StorageConfig{
			Path:               "data/depthwatch",
			Retention:          duration{168 * time.Hour},
			SnapshotInterval:   duration{time.Second},
			TradeFlushInterval: duration{time.Second},
			SweepInterval:      duration{time.Hour},
		},
		Analytics: AnalyticsConfig{
			MinProfileTrades:   1000,
			ValueAreaPct:       0.70,
			TickSize:           0.01,
			AnomalyWindow:      duration{60 * time.Second},
			HealthWindow:       duration{70 * time.Second},
			VacuumThreshold:    0.2,
			QuoteStuffingRate:  500,
			MaxFillRate:        0.10,
			IcebergMultiplier:  5,
			FlashDepthLossPct:  80,
			FlashSpreadMult:    10,
			FlashCancelRatePct: 90,
			FlashCrashMoveBps:  200,
			DegradedBelow:      60,
			PoorBelow:          40,
			QueryTimeout:       duration{5 * time.Second},
			ReportCacheTTL:     duration{5 * time.Second},
		},
		Alerts: AlertsConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
			Cooldown: duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			BookTTL:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "depthwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "depthwatch-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "depthwatch.snapshots",
			BatchTimeout: duration{50 * time.Millisecond},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       600,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"anomaly_high", "anomaly_critical"},
		},
		Mode:     "track",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"track":   true,
	"server":  true,
	"collect": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		fail("unknown mode %q (valid: track, server, collect)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		fail("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Binance.RestURL == "" || c.Binance.WsURL == "" {
		fail("binance: rest_url and ws_url must be set")
	}
	if c.Binance.RestRatePerMinute < 0 {
		fail("binance: rest_rate_per_minute must not be negative")
	}
	if c.Binance.ReconnectInitial.Duration <= 0 || c.Binance.ReconnectMax.Duration < c.Binance.ReconnectInitial.Duration {
		fail("binance: need 0 < reconnect_initial <= reconnect_max")
	}

	if c.Subscription.MaxSubscriptions <= 0 {
		fail("subscription: max_subscriptions must be positive")
	}
	if n := len(c.Subscription.Symbols); n > c.Subscription.MaxSubscriptions {
		fail("subscription: %d symbols exceed max_subscriptions %d", n, c.Subscription.MaxSubscriptions)
	}
	if c.Subscription.DepthLimit < 1 || c.Subscription.DepthLimit > 5000 {
		fail("subscription: depth_limit must be within [1, 5000]")
	}
	if c.Subscription.IdleTimeout.Duration < 0 {
		fail("subscription: idle_timeout must not be negative")
	}
	if strings.EqualFold(c.Mode, "collect") && len(c.Subscription.Symbols) == 0 {
		fail("subscription: collect mode needs at least one symbol")
	}

	if c.Book.StalenessThreshold.Duration <= 0 {
		fail("book: staleness_threshold must be positive")
	}
	if c.Metrics.WallMultiplier <= 1 {
		fail("metrics: wall_multiplier must be greater than 1")
	}
	if c.Metrics.ImbalanceDepth < 1 || c.Metrics.ImbalanceDepth > 100 {
		fail("metrics: imbalance_depth must be within [1, 100]")
	}

	if !c.Storage.InMemory && c.Storage.Path == "" {
		fail("storage: path is required unless in_memory is set")
	}
	if c.Storage.Retention.Duration < time.Hour {
		fail("storage: retention must be at least 1h")
	}
	for name, d := range map[string]duration{
		"snapshot_interval":    c.Storage.SnapshotInterval,
		"trade_flush_interval": c.Storage.TradeFlushInterval,
		"sweep_interval":       c.Storage.SweepInterval,
	} {
		if d.Duration <= 0 {
			fail("storage: %s must be positive", name)
		}
	}

	if c.Analytics.ReportCacheTTL.Duration < 0 {
		fail("analytics: report_cache_ttl must not be negative")
	}
	if c.Analytics.ValueAreaPct <= 0 || c.Analytics.ValueAreaPct > 1 {
		fail("analytics: value_area_pct must be within (0, 1]")
	}
	if c.Analytics.TickSize <= 0 {
		fail("analytics: tick_size must be positive")
	}
	if c.Analytics.PoorBelow > c.Analytics.DegradedBelow {
		fail("analytics: poor_below must not exceed degraded_below")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		fail("redis: addr is required when enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		fail("postgres: dsn or host is required when enabled")
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		fail("s3: bucket and region are required when enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		fail("kafka: brokers and topic are required when enabled")
	}

	if !strings.EqualFold(c.Mode, "collect") && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		fail("server: port must be within [1, 65535]")
	}
	if c.Server.RateLimit < 0 {
		fail("server: rate_limit must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %d error(s):\n  - %s", len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}
