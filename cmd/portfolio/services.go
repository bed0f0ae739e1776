package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"portfolio-cms/internal/cache"
	"portfolio-cms/internal/logging"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/repository"
	"portfolio-cms/internal/schema"
	"portfolio-cms/internal/store"
)

// openStore connects to the database and makes sure the auth tables exist.
// The store holds users even when collections live behind another backend.
func openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Bootstrap(ctx, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate creates the collection tables when collections are stored in SQL.
func migrate(ctx context.Context, db *store.Store, reg *schema.Registry) error {
	if cfg.Backend.Driver != "sql" {
		return nil
	}
	if err := store.NewMigrator(db).MigrateAll(ctx, reg); err != nil {
		return fmt.Errorf("migrate collections: %w", err)
	}
	return nil
}

// openRepository builds the configured backend wrapped with the request
// timeout and, when m is set, metrics.
func openRepository(db *store.Store, reg *schema.Registry, m *metrics.Metrics) repository.Repository {
	var repo repository.Repository
	switch cfg.Backend.Driver {
	case "rest":
		repo = repository.NewREST(cfg.REST, reg, &http.Client{})
	case "memory":
		repo = repository.NewMemory(reg)
	default:
		repo = repository.NewSQL(db, reg)
	}
	repo = repository.WithTimeout(repo, cfg.Backend.RequestTimeout)
	if m != nil {
		repo = repository.Instrumented(repo, m, logging.Component(logger, "repository"))
	}
	return repo
}

// openCache builds the query cache, broadcasting invalidations through
// Redis when enabled. The returned func releases the Redis client.
func openCache(ctx context.Context, m *metrics.Metrics) (*cache.Cache, func(), error) {
	opts := cache.Options{
		StaleAfter:   cfg.Cache.StaleAfter,
		FetchTimeout: cfg.Cache.FetchTimeout,
		Metrics:      m,
		Logger:       logger,
	}
	release := func() {}
	if rc := cfg.Cache.Redis; rc.Enabled {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		opts.Broadcaster = cache.NewRedisBroadcaster(client, rc.Channel, logger)
		release = func() { client.Close() }
	}
	c := cache.New(opts)
	return c, func() {
		c.Close()
		release()
	}, nil
}

func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg), reg
}
