// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"math"
	"time"
)

// RetryPolicy bounds how often a subject may request a passcode.
type RetryPolicy struct {
	// MaxAttempts is the request count that triggers the lockout.
	MaxAttempts int

	// AttemptWindow is how far the outstanding passcode's timestamp may sit
	// from the limit mark and still count against it.
	AttemptWindow time.Duration

	// LockoutWindow is how long requests are denied after the limit mark.
	LockoutWindow time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   DefaultMaxOTPAttempts,
		AttemptWindow: DefaultAttemptWindow,
		LockoutWindow: DefaultLockoutWindow,
	}
}

// RetryLimitResult contains the result of a retry limit check.
type RetryLimitResult struct {
	// Exceeded indicates the request must be denied.
	Exceeded bool

	// Remaining is the time until requests are allowed again.
	Remaining time.Duration

	// Lapsed indicates the limit was reached but the lockout has passed,
	// so the attempt counter should be reset.
	Lapsed bool
}

// WaitMinutes rounds Remaining up to whole minutes. A denial always waits
// at least one minute.
func (r RetryLimitResult) WaitMinutes() int {
	if !r.Exceeded {
		return 0
	}
	minutes := int(math.Ceil(r.Remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// Check evaluates the policy for a subject with count attempts, a limit
// mark at limitAt (zero if unmarked) and an outstanding passcode generated
// at generatedAt.
func (p RetryPolicy) Check(count int, limitAt, generatedAt, now time.Time) RetryLimitResult {
	if count < p.MaxAttempts || limitAt.IsZero() {
		return RetryLimitResult{}
	}

	lockoutEnd := limitAt.Add(p.LockoutWindow)
	if !now.Before(lockoutEnd) {
		return RetryLimitResult{Lapsed: true}
	}

	if !withinWindow(generatedAt, limitAt, p.AttemptWindow) {
		return RetryLimitResult{}
	}

	return RetryLimitResult{
		Exceeded:  true,
		Remaining: lockoutEnd.Sub(now),
	}
}

func withinWindow(t, mark time.Time, window time.Duration) bool {
	d := t.Sub(mark)
	if d < 0 {
		d = -d
	}
	return d <= window
}
