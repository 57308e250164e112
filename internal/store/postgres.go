// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
)

// ConnectConfig controls pool creation.
type ConnectConfig struct {
	DSN      string
	MaxConns int32
	Attempts uint64
	Backoff  time.Duration
}

// pinger abstracts the readiness check so tests can drive the retry loop.
type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pgx pool and pings it with exponential backoff until the
// database answers or the attempts run out.
func Connect(ctx context.Context, cfg ConnectConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, oops.Code("DB_INVALID_CONFIG").Errorf("database DSN is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, oops.Code("DB_INVALID_CONFIG").With("operation", "parse dsn").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitReady(ctx, pool, cfg.Attempts, cfg.Backoff); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitReady(ctx context.Context, db pinger, attempts uint64, backoff time.Duration) error {
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}
	if backoff <= 0 {
		backoff = DefaultConnectBackoff
	}

	b := retry.WithMaxRetries(attempts-1, retry.NewExponential(backoff))
	tries := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		tries++
		if err := db.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", tries).
			Wrap(err)
	}
	return nil
}
