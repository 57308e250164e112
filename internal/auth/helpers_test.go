// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/attempts"
	"github.com/holomush/stepup/internal/auth/memory"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testSubject = "100000"

func testAccount(t *testing.T, subject string) *auth.Account {
	t.Helper()
	acct, err := auth.NewAccount(subject, subject+"@example.com", "Ana", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")
	require.NoError(t, err)
	return acct
}

type otpFixture struct {
	clock    *fakeClock
	accounts *memory.AccountRepository
	otps     *memory.OTPRepository
	attempts *attempts.LRUCache
	svc      *auth.OTPService
}

func newOTPFixture(t *testing.T, opts ...auth.OTPServiceOption) *otpFixture {
	t.Helper()
	f := &otpFixture{
		clock:    newFakeClock(),
		accounts: memory.NewAccountRepository(testAccount(t, testSubject), testAccount(t, "200000")),
		otps:     memory.NewOTPRepository(),
	}
	cache, err := attempts.NewLRUCache(attempts.DefaultCapacity, attempts.DefaultTTL, attempts.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.attempts = cache

	opts = append([]auth.OTPServiceOption{auth.WithOTPClock(f.clock.Now)}, opts...)
	f.svc, err = auth.NewOTPService(f.accounts, f.otps, f.attempts, opts...)
	require.NoError(t, err)
	return f
}

type tokenFixture struct {
	clock    *fakeClock
	accounts *memory.AccountRepository
	tokens   *memory.TokenRepository
	signer   *auth.TokenSigner
	svc      *auth.TokenService
}

func newTokenFixture(t *testing.T, opts ...auth.TokenServiceOption) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		clock:    newFakeClock(),
		accounts: memory.NewAccountRepository(testAccount(t, testSubject)),
		tokens:   memory.NewTokenRepository(),
	}
	f.signer = newTestSigner(t, f.clock)

	var err error
	f.svc, err = auth.NewTokenService(f.signer, f.tokens, f.accounts, opts...)
	require.NoError(t, err)
	return f
}
