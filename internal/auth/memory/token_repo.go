// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// TokenRepository is a map-backed session token allow-list.
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[string]auth.SessionToken
}

// NewTokenRepository creates an empty TokenRepository.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[string]auth.SessionToken)}
}

// Create stores a new token.
func (r *TokenRepository) Create(_ context.Context, token *auth.SessionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.TokenHash]; ok {
		return oops.Code("SESSION_TOKEN_DUPLICATE").With("subject", token.Subject).Wrap(auth.ErrDuplicate)
	}
	stored := *token
	stored.Token = ""
	r.tokens[token.TokenHash] = stored
	return nil
}

// GetByHash retrieves a token by its hash.
func (r *TokenRepository) GetByHash(_ context.Context, tokenHash string) (*auth.SessionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenHash]
	if !ok {
		return nil, oops.Code("SESSION_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &tok, nil
}

// Delete removes a token by hash.
func (r *TokenRepository) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, tokenHash)
	return nil
}

// DeleteBySubject removes all tokens for a subject.
func (r *TokenRepository) DeleteBySubject(_ context.Context, subject string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, tok := range r.tokens {
		if tok.Subject == subject {
			delete(r.tokens, hash)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes tokens that expired before the cutoff.
func (r *TokenRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, tok := range r.tokens {
		if tok.ExpiresAt.Before(before) {
			delete(r.tokens, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of allow-listed tokens.
func (r *TokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
