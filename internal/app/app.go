// Package app assembles the pipeline, storage and notifiers from
// configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-pooling/internal/config"
	"github.com/example/ride-pooling/internal/eta"
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/ingest"
	"github.com/example/ride-pooling/internal/intake"
	"github.com/example/ride-pooling/internal/matcher"
	"github.com/example/ride-pooling/internal/notify"
	"github.com/example/ride-pooling/internal/pipeline"
	"github.com/example/ride-pooling/internal/pricing"
	"github.com/example/ride-pooling/internal/route"
	"github.com/example/ride-pooling/internal/storage"
	"github.com/example/ride-pooling/internal/ticket"
)

const redisSeedTimeout = 3 * time.Second

type Components struct {
	Store    storage.PoolStore
	Pipeline *pipeline.Orchestrator
	WSReg    *notify.WSRegistry
	// Producer is nil when Kafka is not configured.
	Producer *ingest.KafkaProducer

	closers []func() error
}

func Build(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Components, error) {
	c := &Components{WSReg: notify.NewWSRegistry()}
	c.Store = c.buildStore(cfg, logger)

	if len(cfg.KafkaBrokers) > 0 {
		c.Producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaRequestTopic)
		c.closers = append(c.closers, c.Producer.Close)
	}

	router, err := c.buildRouter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	orch, err := pipeline.New(pipeline.Stages{
		Parser:   intake.NewValidator(),
		Matcher:  buildMatcher(cfg),
		Router:   router,
		Pricer:   pricing.PerKm{RatePerKm: cfg.RatePerKm, BaseFare: cfg.BaseFare},
		Tickets:  ticket.Issuer{},
		Notifier: c.buildNotifier(cfg, logger),
	}, pipeline.Options{
		Workers:      cfg.StageWorkers,
		StageTimeout: cfg.StageTimeout,
		Logger:       logger.With("component", "pipeline"),
	})
	if err != nil {
		return nil, err
	}
	c.Pipeline = orch
	return c, nil
}

func (c *Components) buildStore(cfg config.ServerConfig, logger *slog.Logger) storage.PoolStore {
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err == nil {
			c.closers = append(c.closers, ps.Close)
			return ps
		}
		logger.Warn("postgres unavailable, using memory store", "error", err)
	}
	if cfg.SeedFixtures {
		return storage.NewSeededMemoryStore(time.Now())
	}
	return storage.NewMemoryStore()
}

func buildMatcher(cfg config.ServerConfig) pipeline.Matcher {
	if cfg.MatchPolicy == "destination" {
		return matcher.ByDestination{RunScoped: cfg.RunScopedPoolIDs, Window: cfg.MatchWindow, MaxRiders: cfg.MaxPoolSize}
	}
	return matcher.Sequential{RunScoped: cfg.RunScopedPoolIDs}
}

// buildRouter never fails on an unreachable Redis; like Postgres it falls
// back to in-process data.
func (c *Components) buildRouter(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (pipeline.RouteOptimizer, error) {
	if cfg.RoutePolicy != "geo" {
		return route.Fixed{DistanceKm: cfg.FixedDistance}, nil
	}
	var places geo.Gazetteer = geo.NewSeededIndex()
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGazetteer(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		sctx, cancel := context.WithTimeout(ctx, redisSeedTimeout)
		err := rg.Seed(sctx)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using built-in places", "addr", cfg.RedisAddr, "error", err)
			_ = rg.Close()
		} else {
			c.closers = append(c.closers, rg.Close)
			places = rg
		}
	}
	r := &route.Geo{Places: places, SpeedMps: cfg.SpeedMps}
	if cfg.OSRMEndpoint != "" {
		r.ETA = &eta.Cached{Client: eta.NewOSRMClient(cfg.OSRMEndpoint), Cache: eta.NewCache(10 * time.Minute)}
		logger.Info("routing with osrm", "endpoint", cfg.OSRMEndpoint)
	}
	return r, nil
}

func (c *Components) buildNotifier(cfg config.ServerConfig, logger *slog.Logger) pipeline.Notifier {
	n := notify.Multi{&notify.LogNotifier{Logger: logger.With("component", "notify")}, c.WSReg}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaReminderTopic != "" {
		k := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaReminderTopic)
		c.closers = append(c.closers, k.Close)
		n = append(n, k)
	}
	if cfg.ReminderWebhook != "" {
		n = append(n, notify.NewWebhookNotifier(cfg.ReminderWebhook, cfg.ReminderWebhookKey))
	}
	return n
}

func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
