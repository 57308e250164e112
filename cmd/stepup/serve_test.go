// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/memory"
	"github.com/holomush/stepup/internal/config"
	"github.com/holomush/stepup/internal/observability"
	"github.com/holomush/stepup/internal/store"
	"github.com/holomush/stepup/pkg/errutil"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	readiness observability.ReadinessChecker
	startErr  error
	started   bool
	stopped   bool
}

func newMockObservabilityServer(readiness observability.ReadinessChecker) *mockObservabilityServer {
	reg := prometheus.NewRegistry()
	return &mockObservabilityServer{
		registry:  reg,
		metrics:   observability.NewMetrics(reg),
		readiness: readiness,
	}
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	m.started = true
	return make(chan error), m.startErr
}

func (m *mockObservabilityServer) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func (m *mockObservabilityServer) Addr() string                    { return "127.0.0.1:0" }
func (m *mockObservabilityServer) Metrics() *observability.Metrics { return m.metrics }
func (m *mockObservabilityServer) Registry() prometheus.Registerer { return m.registry }

// capturingNotifier keeps delivered messages.
type capturingNotifier struct {
	mu   sync.Mutex
	msgs []auth.Message
}

func (n *capturingNotifier) Send(_ context.Context, msg auth.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *capturingNotifier) last() (auth.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return auth.Message{}, false
	}
	return n.msgs[len(n.msgs)-1], true
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	cfg.Session.SigningKey = testSigningKey
	cfg.SeedAccounts = []config.SeedAccount{{
		Subject: "100000",
		Email:   "ana@example.com",
		Name:    "Ana",
		Secret:  "hunter2",
	}}
	return cfg
}

// startServe runs the serve loop in the background and returns the API
// base URL and a function that stops it and returns its error.
func startServe(t *testing.T, cfg *config.Config, deps *ServeDeps) (string, func() error) {
	t.Helper()
	addrCh := make(chan string, 1)
	deps.ListenerFactory = func(network, address string) (net.Listener, error) {
		l, err := net.Listen(network, address)
		if err == nil {
			addrCh <- l.Addr().String()
		}
		return l, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	cmd := &cobra.Command{}
	cmd.SetOut(new(bytes.Buffer))
	go func() { done <- runServeWithDeps(ctx, cfg, cmd, deps) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr, func() error {
			cancel()
			select {
			case err := <-done:
				return err
			case <-time.After(10 * time.Second):
				t.Fatal("serve did not shut down")
				return nil
			}
		}
	case err := <-done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("serve did not start")
	}
	return "", nil
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

var codePattern = regexp.MustCompile(`is ([0-9]{6})\.`)

func TestServe_MemoryStoreEndToEnd(t *testing.T) {
	notifier := &capturingNotifier{}
	var obs *mockObservabilityServer
	deps := &ServeDeps{
		NotifierFactory: func(config.MailConfig, *slog.Logger) (auth.Notifier, error) {
			return notifier, nil
		},
		ObservabilityServerFactory: func(_ string, readiness observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
			obs = newMockObservabilityServer(readiness)
			return obs
		},
	}

	base, stop := startServe(t, memoryConfig(), deps)

	resp := postJSON(t, base+"/otp/generate", `{"subject":"100000"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var msg auth.Message
	require.Eventually(t, func() bool {
		var ok bool
		msg, ok = notifier.last()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ana@example.com", msg.Recipient)
	match := codePattern.FindStringSubmatch(msg.Body)
	require.Len(t, match, 2, "no passcode in %q", msg.Body)

	resp = postJSON(t, base+"/otp/login", `{"subject":"100000","code":"`+match[1]+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	require.NotEmpty(t, tok.Token)

	req, err := http.NewRequest(http.MethodGet, base+"/session/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	meResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = meResp.Body.Close() }()
	assert.Equal(t, http.StatusOK, meResp.StatusCode)

	require.NotNil(t, obs)
	assert.True(t, obs.started)
	assert.NoError(t, obs.readiness(context.Background()))

	require.NoError(t, stop())
	assert.True(t, obs.stopped)
}

func TestServe_MetricsDisabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Addr = ""
	called := false
	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			called = true
			return newMockObservabilityServer(nil)
		},
	}

	_, stop := startServe(t, cfg, deps)

	require.NoError(t, stop())
	assert.False(t, called)
}

func TestServe_ListenFailure(t *testing.T) {
	cfg := memoryConfig()
	obs := newMockObservabilityServer(nil)
	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return obs
		},
		ListenerFactory: func(string, string) (net.Listener, error) {
			return nil, errors.New("address in use")
		},
	}

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, deps)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVE_LISTEN_FAILED")
	assert.True(t, obs.stopped)
}

func TestServe_ObservabilityStartFailure(t *testing.T) {
	cfg := memoryConfig()
	obs := newMockObservabilityServer(nil)
	obs.startErr = errors.New("bind failed")
	deps := &ServeDeps{
		ObservabilityServerFactory: func(string, observability.ReadinessChecker, *slog.Logger) ObservabilityServer {
			return obs
		},
	}

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, deps)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVE_OBSERVABILITY_FAILED")
}

func TestServe_NotifierFailure(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mail.Driver = config.MailSMTP
	deps := &ServeDeps{
		NotifierFactory: func(config.MailConfig, *slog.Logger) (auth.Notifier, error) {
			return nil, errors.New("no host")
		},
	}

	err := runServeWithDeps(context.Background(), cfg, &cobra.Command{}, deps)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVE_NOTIFIER_FAILED")
	errutil.AssertErrorContext(t, err, "driver", config.MailSMTP)
}

func postgresConfig() *config.Config {
	cfg := memoryConfig()
	cfg.Store = config.StorePostgres
	cfg.Database.URL = testDatabaseURL
	cfg.Database.AutoMigrate = true
	cfg.SeedAccounts = nil
	return cfg
}

func TestOpenBackend_PostgresAutoMigrates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectClose()

	m := &fakeMigrator{}
	var gotCfg store.ConnectConfig
	deps := (&ServeDeps{
		PoolFactory: func(_ context.Context, cfg store.ConnectConfig) (Pool, error) {
			gotCfg = cfg
			return mock, nil
		},
		MigratorFactory: func(url string) (AutoMigrator, error) {
			assert.Equal(t, testDatabaseURL, url)
			return m, nil
		},
	}).withDefaults()

	b, err := openBackend(context.Background(), postgresConfig(), deps, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.Equal(t, testDatabaseURL, gotCfg.DSN)
	assert.Equal(t, []string{"up", "close"}, m.calls)
	require.NotNil(t, b.ready)
	assert.NoError(t, b.ready(context.Background()))

	b.close()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenBackend_AutoMigrateFailureClosesPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	deps := (&ServeDeps{
		PoolFactory: func(context.Context, store.ConnectConfig) (Pool, error) {
			return mock, nil
		},
		MigratorFactory: func(string) (AutoMigrator, error) {
			return &fakeMigrator{err: errors.New("dirty database")}, nil
		},
	}).withDefaults()

	_, err = openBackend(context.Background(), postgresConfig(), deps, slog.New(slog.DiscardHandler))

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTO_MIGRATE_FAILED")
	errutil.AssertErrorContext(t, err, "operation", "apply migrations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenBackend_SkipsMigrationWhenDisabled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	cfg := postgresConfig()
	cfg.Database.AutoMigrate = false
	deps := (&ServeDeps{
		PoolFactory: func(context.Context, store.ConnectConfig) (Pool, error) {
			return mock, nil
		},
		MigratorFactory: func(string) (AutoMigrator, error) {
			t.Fatal("migrator must not be created")
			return nil, nil
		},
	}).withDefaults()

	_, err = openBackend(context.Background(), cfg, deps, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
}

func TestOpenAttemptCache_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default().Attempts
	cfg.Backend = config.AttemptsRedis
	cfg.RedisAddr = mr.Addr()

	var client redis.UniversalClient
	deps := (&ServeDeps{
		RedisClientFactory: func(c config.AttemptsConfig) redis.UniversalClient {
			client = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
			return client
		},
	}).withDefaults()

	cache, ready, closeCache, err := openAttemptCache(cfg, deps)
	require.NoError(t, err)
	defer closeCache()

	ctx := context.Background()
	require.NoError(t, ready(ctx))
	n, err := cache.Increment(ctx, "100000")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mr.Close()
	assert.Error(t, ready(ctx))
}

func TestOpenAttemptCache_LRUHasNoReadiness(t *testing.T) {
	cache, ready, closeCache, err := openAttemptCache(config.Default().Attempts, (&ServeDeps{}).withDefaults())
	require.NoError(t, err)
	defer closeCache()

	assert.NotNil(t, cache)
	assert.Nil(t, ready)
}

func TestSeedAccounts_Idempotent(t *testing.T) {
	repo := memory.NewAccountRepository()
	seeds := []config.SeedAccount{{Subject: "100000", Email: "ana@example.com", Name: "Ana", Secret: "hunter2"}}
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	require.NoError(t, seedAccounts(ctx, repo, seeds, plainHasher{}, logger))
	require.NoError(t, seedAccounts(ctx, repo, seeds, plainHasher{}, logger))

	hash, err := repo.CredentialHash(ctx, "100000")
	require.NoError(t, err)
	assert.Equal(t, "plain$hunter2", hash)
}

func TestSeedAccounts_InvalidEmail(t *testing.T) {
	repo := memory.NewAccountRepository()
	seeds := []config.SeedAccount{{Subject: "100000", Email: "nope", Secret: "hunter2"}}

	err := seedAccounts(context.Background(), repo, seeds, plainHasher{}, slog.New(slog.DiscardHandler))

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_EMAIL")
	errutil.AssertErrorContext(t, err, "subject", "100000")
}

func TestAllReady(t *testing.T) {
	failing := errors.New("down")
	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return failing }

	assert.NoError(t, allReady(nil, ok)(context.Background()))
	assert.ErrorIs(t, allReady(ok, bad)(context.Background()), failing)
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("error cancels context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		errCh <- errors.New("listener died")

		monitorServerErrors(ctx, cancel, errCh, "test")

		assert.Error(t, ctx.Err())
	})

	t.Run("closed channel leaves context alone", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error)
		close(errCh)

		monitorServerErrors(ctx, cancel, errCh, "test")

		assert.NoError(t, ctx.Err())
	})
}

func TestNewNotifier(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	n, err := newNotifier(config.MailConfig{Driver: config.MailLog}, logger)
	require.NoError(t, err)
	assert.NotNil(t, n)

	_, err = newNotifier(config.MailConfig{Driver: config.MailSMTP}, logger)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SMTP_INVALID_CONFIG")

	n, err = newNotifier(config.MailConfig{Driver: config.MailSMTP, Host: "smtp.example.com", From: "stepup@example.com"}, logger)
	require.NoError(t, err)
	assert.NotNil(t, n)
}
