package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/depthwatch/internal/blob/s3"
	"github.com/alanyoungcy/depthwatch/internal/cache/redis"
	"github.com/alanyoungcy/depthwatch/internal/config"
	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/notify"
	kafkapub "github.com/alanyoungcy/depthwatch/internal/publish/kafka"
	badgerstore "github.com/alanyoungcy/depthwatch/internal/store/badger"
	"github.com/alanyoungcy/depthwatch/internal/store/postgres"
)

// Dependencies bundles the storage and side-output implementations the modes
// need. Optional outputs stay nil when their section is disabled. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Time-series store
	DB        *badgerstore.DB
	Snapshots *badgerstore.SnapshotStore
	Trades    *badgerstore.TradeStore
	Retention *badgerstore.Retention

	// Redis
	Mirror      domain.BookMirror
	RateLimiter domain.RateLimiter
	Leases      domain.LeaseManager
	Bus         *redis.Bus

	// Postgres
	Journal domain.Journal

	// S3
	Archiver domain.Archiver

	// Kafka
	Publisher domain.SnapshotPublisher

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Badger time-series store (always) ---
	db, err := badgerstore.Open(badgerstore.Config{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
	}, logger)
	if err != nil {
		return fail("badger", err)
	}
	closers = append(closers, func() {
		if err := db.Close(); err != nil {
			logger.Error("close badger", slog.String("error", err.Error()))
		}
	})
	deps.DB = db
	deps.Snapshots = badgerstore.NewSnapshotStore(db)
	deps.Trades = badgerstore.NewTradeStore(db)
	deps.Retention = badgerstore.NewRetention(db)

	// --- Redis: book mirror, pub/sub bus, HTTP rate limiter, alert leases ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: 5 * time.Second,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Mirror = redis.NewBookMirror(redisClient, cfg.Redis.BookTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Leases = redis.NewLeaseManager(redisClient)
		deps.Bus = redis.NewBus(redisClient)
	}

	// --- PostgreSQL event journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient)
	}

	// --- S3 retention archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		// Not fatal: the sweeper retries the archive on every tick.
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable at startup",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), 0)
	}

	// --- Kafka snapshot fan-out ---
	if cfg.Kafka.Enabled {
		pub, err := kafkapub.NewPublisher(kafkapub.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		}, logger)
		if err != nil {
			return fail("kafka", err)
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Error("close kafka writer", slog.String("error", err.Error()))
			}
		})
		deps.Publisher = pub
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			"",
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Bus != nil {
		deps.Notifier = deps.Notifier.WithPublisher(deps.Bus)
	}

	return deps, cleanup, nil
}
