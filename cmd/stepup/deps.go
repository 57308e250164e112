// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/postgres"
	"github.com/holomush/stepup/internal/config"
	"github.com/holomush/stepup/internal/notify"
	"github.com/holomush/stepup/internal/observability"
	"github.com/holomush/stepup/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens the PostgreSQL pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, cfg store.ConnectConfig) (Pool, error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// RedisClientFactory creates the client behind the redis attempt cache.
	// Default: redis.NewClient
	RedisClientFactory func(cfg config.AttemptsConfig) redis.UniversalClient

	// NotifierFactory creates the passcode delivery transport.
	// Default: newNotifier
	NotifierFactory func(cfg config.MailConfig, logger *slog.Logger) (auth.Notifier, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the HTTP API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// withDefaults returns a copy of deps with nil factories filled in.
func (d *ServeDeps) withDefaults() *ServeDeps {
	out := &ServeDeps{}
	if d != nil {
		*out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = connectPool
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if out.RedisClientFactory == nil {
		out.RedisClientFactory = newRedisClient
	}
	if out.NotifierFactory == nil {
		out.NotifierFactory = newNotifier
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, readiness, logger)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return out
}

// Pool wraps the methods used from *pgxpool.Pool.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator during startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// Migrator wraps the methods the migrate command uses from store.Migrator.
type Migrator interface {
	AutoMigrator
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.Status, error)
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	Registry() prometheus.Registerer
}

func connectPool(ctx context.Context, cfg store.ConnectConfig) (Pool, error) {
	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func newRedisClient(cfg config.AttemptsConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newNotifier(cfg config.MailConfig, logger *slog.Logger) (auth.Notifier, error) {
	if cfg.Driver != config.MailSMTP {
		return notify.NewLogNotifier(logger), nil
	}
	n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}
