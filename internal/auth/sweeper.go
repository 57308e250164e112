// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/stepup/pkg/errutil"
)

// DefaultSweepInterval is the interval between expired record sweeps.
const DefaultSweepInterval = time.Minute

// SweeperConfig configures the Sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Defaults to DefaultSweepInterval if zero or negative.
	Interval time.Duration

	// OTPTTL is the passcode lifetime. Defaults to DefaultOTPTTL if zero or negative.
	OTPTTL time.Duration
}

// Sweeper periodically removes expired passcodes and session tokens.
//
// Start launches a background goroutine. Call Close to stop it.
type Sweeper struct {
	otps     OTPRepository
	tokens   TokenRepository
	interval time.Duration
	otpTTL   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweeperClock sets the clock used to compute cutoffs.
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper creates a Sweeper. It does not start until Start is called.
func NewSweeper(otps OTPRepository, tokens TokenRepository, cfg SweeperConfig, opts ...SweeperOption) (*Sweeper, error) {
	if otps == nil || tokens == nil {
		return nil, oops.Code("SWEEPER_INVALID_CONFIG").Errorf("repositories cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	otpTTL := cfg.OTPTTL
	if otpTTL <= 0 {
		otpTTL = DefaultOTPTTL
	}

	s := &Sweeper{
		otps:     otps,
		tokens:   tokens,
		interval: interval,
		otpTTL:   otpTTL,
		logger:   slog.Default(),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep removes expired records once and returns the counts removed.
func (s *Sweeper) Sweep(ctx context.Context) (otps, tokens int64, err error) {
	now := s.now()

	otps, err = s.otps.DeleteExpired(ctx, now.Add(-s.otpTTL))
	if err != nil {
		return 0, 0, oops.Code("SWEEP_FAILED").With("kind", SweepKindOTP).Wrap(err)
	}
	RecordSwept(SweepKindOTP, otps)

	tokens, err = s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return otps, 0, oops.Code("SWEEP_FAILED").With("kind", SweepKindSessionToken).Wrap(err)
	}
	RecordSwept(SweepKindSessionToken, tokens)

	return otps, tokens, nil
}

// Start launches the sweep loop. Subsequent calls are no-ops.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop(ctx)
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			otps, tokens, err := s.Sweep(ctx)
			if err != nil {
				errutil.LogError(s.logger, "expired record sweep failed", err)
				continue
			}
			if otps > 0 || tokens > 0 {
				s.logger.Debug("expired records removed", "otps", otps, "tokens", tokens)
			}
		}
	}
}

// Close stops the sweep loop and blocks until it has exited.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}
