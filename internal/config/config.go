// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads stepup settings. Sources are layered lowest to
// highest: built-in defaults, a YAML file, STEPUP_ environment variables and
// explicitly set command-line flags.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/attempts"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: STEPUP_OTP__MAX_ATTEMPTS sets otp.max_attempts.
const EnvPrefix = "STEPUP_"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Attempt cache backends.
const (
	AttemptsLRU   = "lru"
	AttemptsRedis = "redis"
)

// Mail drivers.
const (
	MailLog  = "log"
	MailSMTP = "smtp"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Store    string         `koanf:"store"`
	Database DatabaseConfig `koanf:"database"`
	OTP      OTPConfig      `koanf:"otp"`
	Attempts AttemptsConfig `koanf:"attempts"`
	Session  SessionConfig  `koanf:"session"`
	Sweeper  SweeperConfig  `koanf:"sweeper"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Mail     MailConfig     `koanf:"mail"`
	// SeedAccounts are created at startup when absent.
	SeedAccounts []SeedAccount `koanf:"seed_accounts"`
}

// SeedAccount is an account created on startup.
type SeedAccount struct {
	Subject string `koanf:"subject"`
	Email   string `koanf:"email"`
	Name    string `koanf:"name"`
	Secret  string `koanf:"secret"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	MaxConns        int32  `koanf:"max_conns"`
	ConnectAttempts uint64 `koanf:"connect_attempts"`
	AutoMigrate     bool   `koanf:"auto_migrate"`
}

// OTPConfig holds passcode lifetime and retry policy.
type OTPConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	MaxAttempts   int           `koanf:"max_attempts"`
	AttemptWindow time.Duration `koanf:"attempt_window"`
	LockoutWindow time.Duration `koanf:"lockout_window"`
}

// AttemptsConfig selects and sizes the attempt counter backend.
type AttemptsConfig struct {
	Backend       string        `koanf:"backend"`
	Capacity      int           `koanf:"capacity"`
	TTL           time.Duration `koanf:"ttl"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	KeyPrefix     string        `koanf:"key_prefix"`
}

// SessionConfig configures bearer token signing.
type SessionConfig struct {
	SigningKey string        `koanf:"signing_key"`
	TTL        time.Duration `koanf:"ttl"`
	MaxTTL     time.Duration `koanf:"max_ttl"`
}

// SweeperConfig configures the expired-record sweeper.
type SweeperConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// DispatchConfig sizes the delivery worker pool.
type DispatchConfig struct {
	Workers     int           `koanf:"workers"`
	QueueSize   int           `koanf:"queue_size"`
	SendTimeout time.Duration `koanf:"send_timeout"`
}

// MailConfig configures passcode delivery.
type MailConfig struct {
	Driver   string `koanf:"driver"`
	From     string `koanf:"from"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9100"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Store:   StorePostgres,
		Database: DatabaseConfig{
			ConnectAttempts: 5,
		},
		OTP: OTPConfig{
			TTL:           auth.DefaultOTPTTL,
			MaxAttempts:   auth.DefaultMaxOTPAttempts,
			AttemptWindow: auth.DefaultAttemptWindow,
			LockoutWindow: auth.DefaultLockoutWindow,
		},
		Attempts: AttemptsConfig{
			Backend:   AttemptsLRU,
			Capacity:  attempts.DefaultCapacity,
			TTL:       attempts.DefaultTTL,
			KeyPrefix: attempts.DefaultKeyPrefix,
		},
		Session: SessionConfig{TTL: auth.DefaultSessionTTL, MaxTTL: auth.DefaultMaxSessionTTL},
		Sweeper: SweeperConfig{Interval: auth.DefaultSweepInterval},
		Dispatch: DispatchConfig{
			Workers:     auth.DefaultDispatchWorkers,
			QueueSize:   auth.DefaultDispatchQueueSize,
			SendTimeout: auth.DefaultDispatchSendTimeout,
		},
		Mail: MailConfig{
			Driver: MailLog,
			From:   "stepup@localhost",
			Port:   587,
		},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"store":        "store",
	"database-url": "database.url",
	"auto-migrate": "database.auto_migrate",
	"attempts":     "attempts.backend",
	"redis-addr":   "attempts.redis_addr",
	"mail-driver":  "mail.driver",
}

// BindFlags registers the flags Load understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("store", d.Store, "record store (postgres, memory)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup")
	fs.String("attempts", d.Attempts.Backend, "attempt counter backend (lru, redis)")
	fs.String("redis-addr", "", "Redis address for the redis attempt backend")
	fs.String("mail-driver", d.Mail.Driver, "passcode delivery driver (log, smtp)")
}

// Load reads and validates a Config.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a Config without validating it, for commands that need only
// part of it. path may be empty; fs may be nil. Only flags the user set
// override lower layers.
func Read(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// RetryPolicy returns the OTP retry policy.
func (c *Config) RetryPolicy() auth.RetryPolicy {
	return auth.RetryPolicy{
		MaxAttempts:   c.OTP.MaxAttempts,
		AttemptWindow: c.OTP.AttemptWindow,
		LockoutWindow: c.OTP.LockoutWindow,
	}
}
