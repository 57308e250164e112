// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"net/mail"
	"slices"

	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/logging"
)

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "listen address is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "unknown log format %q", c.Log.Format)
	}

	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database url is required for the postgres store")
		}
	case StoreMemory:
	default:
		return invalid("store", "unknown store %q", c.Store)
	}

	if c.OTP.TTL <= 0 {
		return invalid("otp.ttl", "passcode ttl must be positive")
	}
	if c.OTP.MaxAttempts < 1 {
		return invalid("otp.max_attempts", "max attempts must be at least 1")
	}
	if c.OTP.AttemptWindow <= 0 || c.OTP.LockoutWindow <= 0 {
		return invalid("otp", "attempt and lockout windows must be positive")
	}

	switch c.Attempts.Backend {
	case AttemptsLRU:
		if c.Attempts.Capacity < 1 {
			return invalid("attempts.capacity", "capacity must be at least 1")
		}
	case AttemptsRedis:
		if c.Attempts.RedisAddr == "" {
			return invalid("attempts.redis_addr", "redis address is required for the redis backend")
		}
	default:
		return invalid("attempts.backend", "unknown attempt backend %q", c.Attempts.Backend)
	}

	if len(c.Session.SigningKey) < auth.MinSigningKeyLen {
		return invalid("session.signing_key", "signing key must be at least %d bytes", auth.MinSigningKeyLen)
	}
	if c.Session.TTL <= 0 {
		return invalid("session.ttl", "session ttl must be positive")
	}
	if c.Session.MaxTTL < c.Session.TTL {
		return invalid("session.max_ttl", "max session ttl must be at least session.ttl")
	}
	if c.Sweeper.Interval <= 0 {
		return invalid("sweeper.interval", "sweep interval must be positive")
	}
	if c.Dispatch.Workers < 1 || c.Dispatch.QueueSize < 1 {
		return invalid("dispatch", "workers and queue size must be at least 1")
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailSMTP:
		if c.Mail.Host == "" {
			return invalid("mail.host", "smtp host is required for the smtp driver")
		}
		if _, err := mail.ParseAddress(c.Mail.From); err != nil {
			return invalid("mail.from", "invalid sender address %q", c.Mail.From)
		}
	default:
		return invalid("mail.driver", "unknown mail driver %q", c.Mail.Driver)
	}

	for i, seed := range c.SeedAccounts {
		if seed.Subject == "" || seed.Secret == "" {
			return invalid("seed_accounts", "seed account %d needs a subject and a secret", i)
		}
		if _, err := mail.ParseAddress(seed.Email); err != nil {
			return invalid("seed_accounts", "seed account %q has an invalid email", seed.Subject)
		}
	}
	return nil
}
