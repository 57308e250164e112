// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Passcode policy defaults.
const (
	// DefaultOTPTTL is how long a generated passcode stays valid.
	DefaultOTPTTL = 5 * time.Minute

	// DefaultMaxOTPAttempts is the number of generation requests allowed per
	// attempt window before requests are denied.
	DefaultMaxOTPAttempts = 3

	// DefaultAttemptWindow is the lifetime of an attempt counter, measured
	// from its first increment.
	DefaultAttemptWindow = 15 * time.Minute

	// DefaultLockoutWindow is how long requests stay denied once the
	// attempt limit is reached.
	DefaultLockoutWindow = 10 * time.Minute
)

const (
	otpMin  = 100000
	otpSpan = 900000 // otpMin..999999 inclusive
)

var otpCodeRegex = regexp.MustCompile(`^[0-9]{6}$`)

// OTPRecord is the single outstanding passcode for a subject.
type OTPRecord struct {
	ID          ulid.ULID
	Subject     string
	Code        string
	GeneratedAt time.Time
}

// NewOTPRecord creates a validated OTPRecord.
func NewOTPRecord(subject, code string, generatedAt time.Time) (*OTPRecord, error) {
	if subject == "" {
		return nil, oops.Code("OTP_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if !ValidOTPCode(code) {
		return nil, oops.Code("OTP_INVALID_CODE").Errorf("code must be 6 digits")
	}
	if generatedAt.IsZero() {
		return nil, oops.Code("OTP_INVALID_TIMESTAMP").Errorf("generated at cannot be zero")
	}
	return &OTPRecord{
		ID:          ulid.Make(),
		Subject:     subject,
		Code:        code,
		GeneratedAt: generatedAt,
	}, nil
}

// IsExpiredAt reports whether the passcode is older than ttl at time t.
func (r *OTPRecord) IsExpiredAt(t time.Time, ttl time.Duration) bool {
	return t.Sub(r.GeneratedAt) > ttl
}

// ValidOTPCode reports whether code has the passcode shape (6 ASCII digits).
func ValidOTPCode(code string) bool {
	return otpCodeRegex.MatchString(code)
}

// GenerateOTPCode returns a uniformly random code in 100000..999999.
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpSpan))
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").
			With("operation", "crypto/rand.Int").
			Wrap(err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// OTPRepository manages passcode persistence. There is at most one record
// per subject.
type OTPRepository interface {
	// GetBySubject retrieves the outstanding record for subject.
	GetBySubject(ctx context.Context, subject string) (*OTPRecord, error)

	// GetBySubjectAndCode retrieves the record only if both subject and code match.
	GetBySubjectAndCode(ctx context.Context, subject, code string) (*OTPRecord, error)

	// Upsert stores the record, replacing code and timestamp of any existing
	// record for the same subject.
	Upsert(ctx context.Context, record *OTPRecord) error

	// Delete removes the record for subject. Deleting a missing record is not an error.
	Delete(ctx context.Context, subject string) error

	// DeleteExpired removes records generated before the cutoff and returns
	// the count of deleted records.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AttemptCache is the time-bounded counter of passcode requests per subject.
// Entries expire a fixed time after their first write. The cache is
// advisory: losing an entry resets the subject's attempts.
type AttemptCache interface {
	// Increment adds one attempt and returns the new count.
	Increment(ctx context.Context, subject string) (int, error)

	// Get returns the current count, 0 if absent.
	Get(ctx context.Context, subject string) (int, error)

	// Reset clears the count and any limit timestamp.
	Reset(ctx context.Context, subject string) error

	// MarkLimitReached records when subject hit the attempt limit and returns
	// the recorded time. An earlier mark in the same window wins.
	MarkLimitReached(ctx context.Context, subject string, at time.Time) (time.Time, error)

	// LimitReachedAt returns the recorded limit time, if any.
	LimitReachedAt(ctx context.Context, subject string) (time.Time, bool, error)
}
