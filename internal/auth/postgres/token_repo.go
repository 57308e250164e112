// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new session token.
func (r *TokenRepository) Create(ctx context.Context, token *auth.SessionToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO session_tokens (id, token_hash, subject, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		token.ID.String(),
		token.TokenHash,
		token.Subject,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SESSION_TOKEN_DUPLICATE").
				With("subject", token.Subject).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("SESSION_TOKEN_CREATE_FAILED").
			With("operation", "insert session_token").
			With("subject", token.Subject).
			Wrap(err)
	}
	return nil
}

// GetByHash retrieves a session token by its hash.
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string) (*auth.SessionToken, error) {
	var (
		idStr     string
		hash      string
		subject   string
		expiresAt time.Time
		createdAt time.Time
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, token_hash, subject, expires_at, created_at
		FROM session_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&idStr, &hash, &subject, &expiresAt, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_TOKEN_GET_FAILED").
			With("operation", "get session_token by hash").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_TOKEN_INVALID_ID").
			With("operation", "parse session_token id").
			With("id", idStr).
			Wrap(err)
	}
	return &auth.SessionToken{
		ID:        id,
		TokenHash: hash,
		Subject:   subject,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Delete removes a session token by hash. A missing row is not an error.
func (r *TokenRepository) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM session_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_TOKEN_DELETE_FAILED").
			With("operation", "delete session_token").
			Wrap(err)
	}
	return nil
}

// DeleteBySubject removes all session tokens for a subject.
func (r *TokenRepository) DeleteBySubject(ctx context.Context, subject string) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM session_tokens WHERE subject = $1`, subject)
	if err != nil {
		return 0, oops.Code("SESSION_TOKEN_DELETE_BY_SUBJECT_FAILED").
			With("operation", "delete session_tokens by subject").
			With("subject", subject).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes session tokens that expired before the cutoff.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM session_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("SESSION_TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired session_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
