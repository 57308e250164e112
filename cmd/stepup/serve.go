// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/attempts"
	"github.com/holomush/stepup/internal/auth/memory"
	"github.com/holomush/stepup/internal/auth/postgres"
	"github.com/holomush/stepup/internal/config"
	"github.com/holomush/stepup/internal/logging"
	"github.com/holomush/stepup/internal/observability"
	"github.com/holomush/stepup/internal/store"
	"github.com/holomush/stepup/internal/web"
)

const serviceName = "stepup"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the passcode and session token API",
		Long: `Start the HTTP API that issues and verifies one-time passcodes and
manages session tokens. Configuration is read from the --config file, then
STEPUP_ environment variables, then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.BindFlags(cmd.Flags())

	return cmd
}

// backend holds the repositories of the selected store.
type backend struct {
	accounts auth.AccountRepository
	otps     auth.OTPRepository
	tokens   auth.TokenRepository
	ready    observability.ReadinessChecker
	close    func()
}

// runServeWithDeps runs the service until a signal arrives, ctx is
// cancelled, or a server fails. If deps is nil, default implementations are
// used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	})

	logger.Info("starting stepup",
		"http_addr", cfg.HTTP.Addr,
		"store", cfg.Store,
		"attempts", cfg.Attempts.Backend,
		"mail", cfg.Mail.Driver,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b, err := openBackend(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer b.close()

	if err := seedAccounts(ctx, b.accounts, cfg.SeedAccounts, auth.NewArgon2idHasher(), logger); err != nil {
		return err
	}

	cache, cacheReady, closeCache, err := openAttemptCache(cfg.Attempts, deps)
	if err != nil {
		return err
	}
	defer closeCache()

	notifier, err := deps.NotifierFactory(cfg.Mail, logger)
	if err != nil {
		return oops.Code("SERVE_NOTIFIER_FAILED").With("driver", cfg.Mail.Driver).Wrap(err)
	}
	dispatcher, err := auth.NewDispatcher(notifier, auth.DispatcherConfig{
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		SendTimeout: cfg.Dispatch.SendTimeout,
	}, auth.WithDispatcherLogger(logger))
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	otpService, err := auth.NewOTPService(b.accounts, b.otps, cache,
		auth.WithOTPConfig(auth.OTPConfig{TTL: cfg.OTP.TTL, Policy: cfg.RetryPolicy()}),
		auth.WithOTPDispatcher(dispatcher),
		auth.WithOTPLogger(logger),
	)
	if err != nil {
		return err
	}

	signer, err := auth.NewTokenSigner([]byte(cfg.Session.SigningKey))
	if err != nil {
		return err
	}
	tokenService, err := auth.NewTokenService(signer, b.tokens, b.accounts,
		auth.WithDefaultSessionTTL(cfg.Session.TTL),
		auth.WithTokenLogger(logger),
	)
	if err != nil {
		return err
	}

	sweeper, err := auth.NewSweeper(b.otps, b.tokens, auth.SweeperConfig{
		Interval: cfg.Sweeper.Interval,
		OTPTTL:   cfg.OTP.TTL,
	}, auth.WithSweeperLogger(logger))
	if err != nil {
		return err
	}
	sweeper.Start(ctx)
	defer sweeper.Close()

	webOpts := []web.Option{web.WithLogger(logger), web.WithMaxSessionTTL(cfg.Session.MaxTTL)}

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, allReady(b.ready, cacheReady), logger)
		auth.RegisterMetrics(obsServer.Registry())
		webOpts = append(webOpts, web.WithObserver(obsServer.Metrics()))

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_OBSERVABILITY_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	handler, err := web.NewHandler(otpService, tokenService, webOpts...)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, cfg, logger)
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("stepup listening on " + listener.Addr().String())
	logger.Info("stepup ready", "http_addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		serveErr = oops.Code("SERVE_HTTP_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	stopObservability(obsServer, cfg, logger)

	logger.Info("shutdown complete")
	return serveErr
}

func stopObservability(obsServer ObservabilityServer, cfg *config.Config, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// openBackend connects the configured store. For postgres it also applies
// pending migrations when auto-migrate is on.
func openBackend(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using the in-memory store; state is lost on restart")
		return &backend{
			accounts: memory.NewAccountRepository(),
			otps:     memory.NewOTPRepository(),
			tokens:   memory.NewTokenRepository(),
			close:    func() {},
		}, nil
	}

	pool, err := deps.PoolFactory(ctx, store.ConnectConfig{
		DSN:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		Attempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &backend{
		accounts: postgres.NewAccountRepository(pool),
		otps:     postgres.NewOTPRepository(pool),
		tokens:   postgres.NewTokenRepository(pool),
		ready:    pool.Ping,
		close:    pool.Close,
	}, nil
}

func autoMigrate(databaseURL string, deps *ServeDeps, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// openAttemptCache builds the configured attempt counter and, for redis, its
// readiness check.
func openAttemptCache(cfg config.AttemptsConfig, deps *ServeDeps) (auth.AttemptCache, observability.ReadinessChecker, func(), error) {
	if cfg.Backend != config.AttemptsRedis {
		cache, err := attempts.NewLRUCache(cfg.Capacity, cfg.TTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return cache, nil, func() {}, nil
	}

	client := deps.RedisClientFactory(cfg)
	closeClient := func() {
		if err := client.Close(); err != nil {
			slog.Warn("error closing redis client", "error", err)
		}
	}
	cache, err := attempts.NewRedisCache(client, cfg.TTL, attempts.WithKeyPrefix(cfg.KeyPrefix))
	if err != nil {
		closeClient()
		return nil, nil, nil, err
	}
	ready := func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	return cache, ready, closeClient, nil
}

// seedAccounts creates each configured account that does not exist yet.
func seedAccounts(ctx context.Context, repo auth.AccountRepository, seeds []config.SeedAccount, hasher auth.CredentialHasher, logger *slog.Logger) error {
	for _, seed := range seeds {
		exists, err := repo.Exists(ctx, seed.Subject)
		if err != nil {
			return oops.Code("SEED_FAILED").With("subject", seed.Subject).Wrap(err)
		}
		if exists {
			logger.Debug("seed account already exists", "subject", seed.Subject)
			continue
		}

		hash, err := hasher.Hash(seed.Secret)
		if err != nil {
			return oops.Code("SEED_FAILED").With("subject", seed.Subject).Wrap(err)
		}
		account, err := auth.NewAccount(seed.Subject, seed.Email, seed.Name, hash)
		if err != nil {
			return oops.Code("SEED_FAILED").With("subject", seed.Subject).Wrap(err)
		}
		if err := repo.Create(ctx, account); err != nil && !errors.Is(err, auth.ErrDuplicate) {
			return oops.Code("SEED_FAILED").With("subject", seed.Subject).Wrap(err)
		}
		logger.Info("seed account created", "subject", seed.Subject)
	}
	return nil
}

// allReady combines readiness checks; nil checks are skipped.
func allReady(checks ...observability.ReadinessChecker) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
