// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultSessionTTL is the session lifetime used when Issue is given no ttl.
const DefaultSessionTTL = 30 * time.Minute

// DefaultMaxSessionTTL bounds the lifetime a caller may request for a session.
const DefaultMaxSessionTTL = 24 * time.Hour

// SessionToken is an allow-listed signed token. Only the SHA256 hash of the
// signed string is persisted; Token is populated on issue.
type SessionToken struct {
	ID        ulid.ULID
	Token     string
	TokenHash string
	Subject   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSessionToken creates a validated SessionToken for a signed string.
func NewSessionToken(token, subject string, expiresAt, createdAt time.Time) (*SessionToken, error) {
	if token == "" {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Errorf("token cannot be empty")
	}
	if subject == "" {
		return nil, oops.Code("SESSION_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	if !expiresAt.After(createdAt) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("expires_at", expiresAt).
			With("created_at", createdAt).
			Errorf("expiry must be after creation")
	}

	return &SessionToken{
		ID:        ulid.Make(),
		Token:     token,
		TokenHash: HashSessionToken(token),
		Subject:   subject,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// IsExpiredAt returns true if the token would be expired at the given time.
func (s *SessionToken) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// HashSessionToken computes the SHA256 hash of a signed token string.
// This is the allow-list key.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenRepository manages the session token allow-list.
type TokenRepository interface {
	// Create stores a new token. Returns ErrDuplicate if the hash is taken.
	Create(ctx context.Context, token *SessionToken) error

	// GetByHash retrieves a token by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*SessionToken, error)

	// Delete removes a token by its hash. Deleting a missing token is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteBySubject removes all tokens for a subject and returns the count removed.
	DeleteBySubject(ctx context.Context, subject string) (int64, error)

	// DeleteExpired removes tokens that expired before the cutoff and returns
	// the count removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
