package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/imagery"
	kafkaadapter "github.com/couchcryptid/fire-perimeter-service/internal/adapter/kafka"
	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/objectstore"
	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/postgis"
	"github.com/couchcryptid/fire-perimeter-service/internal/adapter/redislock"
	"github.com/couchcryptid/fire-perimeter-service/internal/config"
	"github.com/couchcryptid/fire-perimeter-service/internal/geometry"
	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
	"github.com/couchcryptid/fire-perimeter-service/internal/pipeline"
)

func newImagery(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*imagery.Fetcher, error) {
	account, err := imagery.LoadServiceAccount(cfg.ServiceAccountFile)
	if err != nil {
		return nil, err
	}
	tokens, err := imagery.NewTokenSource(account, cfg.TokenAudience, cfg.TokenURL,
		&http.Client{Timeout: cfg.ImageryTimeout}, clockwork.NewRealClock(), logger)
	if err != nil {
		return nil, err
	}
	client, err := imagery.NewClient(ctx, cfg.ImageryURL, cfg.ImageryProject, tokens.OAuth2(ctx),
		cfg.ImageryTimeout, cfg.ImageryRateLimit, cfg.ImageryMaxResponseBytes, metrics, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("imagery client ready", "url", cfg.ImageryURL, "project", cfg.ImageryProject, "account", account.ClientEmail)
	return imagery.NewFetcher(client), nil
}

func newAreaCalculator(cfg *config.Config) *geometry.AreaCalculator {
	if cfg.UTMSelection == "nearest" {
		return geometry.NewAreaCalculator(geometry.NearestZone{})
	}
	return geometry.NewAreaCalculator(geometry.FixedZone{Zone: cfg.UTMZone, North: cfg.UTMNorth})
}

func newStore(cfg *config.Config, logger *slog.Logger) (*objectstore.Store, error) {
	return objectstore.New(objectstore.Options{
		Server:        cfg.ObjectStoreServer,
		AccessKey:     cfg.ObjectStoreUserID,
		SecretKey:     cfg.ObjectStoreSecret,
		Bucket:        cfg.ObjectStoreBucket,
		Prefix:        cfg.ObjectStorePrefix,
		Region:        cfg.ObjectStoreRegion,
		Secure:        cfg.ObjectStoreSecure,
		PresignExpiry: cfg.PresignExpiry,
	}, logger)
}

// stages holds the optional pipeline stages and the connections behind them.
type stages struct {
	opts    []pipeline.Option
	closers []func()
}

func (s *stages) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newStages connects the database and, when configured, the object store,
// the event stream and the run lock. The database is skipped when persist is false.
func newStages(ctx context.Context, cfg *config.Config, persist bool, logger *slog.Logger, metrics *observability.Metrics) (*stages, error) {
	s := &stages{}

	if persist {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
		if err != nil {
			return s, fmt.Errorf("connect database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return s, fmt.Errorf("ping database: %w", err)
		}
		writer := postgis.NewWriter(pool, cfg.PerimeterTable, logger, metrics)
		if err := writer.EnsureSchema(ctx); err != nil {
			return s, err
		}
		s.opts = append(s.opts, pipeline.WithPersister(writer))
		logger.Info("perimeter persistence enabled", "table", cfg.PerimeterTable)
	}

	if cfg.ObjectStoreEnabled {
		store, err := newStore(cfg, logger)
		if err != nil {
			return s, err
		}
		s.opts = append(s.opts, pipeline.WithArchiver(store))
		logger.Info("preview archiving enabled", "bucket", cfg.ObjectStoreBucket, "prefix", cfg.ObjectStorePrefix)
	} else {
		logger.Info("preview archiving disabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		s.closers = append(s.closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		})
		s.opts = append(s.opts, pipeline.WithPublisher(publisher))
		logger.Info("perimeter events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.RedisAddr != "" {
		locker := redislock.NewLocker(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.LockTTL, logger)
		s.closers = append(s.closers, func() {
			if err := locker.Close(); err != nil {
				logger.Error("redis close error", "error", err)
			}
		})
		if err := locker.Ping(ctx); err != nil {
			return s, fmt.Errorf("ping redis: %w", err)
		}
		s.opts = append(s.opts, pipeline.WithLocker(locker))
		logger.Info("run lock enabled", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	return s, nil
}
