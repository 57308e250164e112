// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/stepup/pkg/errutil"
)

// Principal is an authenticated bearer.
type Principal struct {
	Subject        string
	CredentialHash string
	ExpiresAt      time.Time
	Token          string
}

// TokenService issues, verifies and revokes session tokens. Verification
// is split into Parse (signature and expiry, no store access except expired
// cleanup) and Validate (allow-list presence).
type TokenService struct {
	signer     *TokenSigner
	tokens     TokenRepository
	accounts   AccountDirectory
	defaultTTL time.Duration
	logger     *slog.Logger
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithDefaultSessionTTL sets the lifetime used when Issue is given no ttl.
func WithDefaultSessionTTL(ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger *slog.Logger) TokenServiceOption {
	return func(s *TokenService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService.
func NewTokenService(
	signer *TokenSigner,
	tokens TokenRepository,
	accounts AccountDirectory,
	opts ...TokenServiceOption,
) (*TokenService, error) {
	if signer == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID_CONFIG").Errorf("signer cannot be nil")
	}
	if tokens == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID_CONFIG").Errorf("token repository cannot be nil")
	}
	if accounts == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID_CONFIG").Errorf("account directory cannot be nil")
	}

	s := &TokenService{
		signer:     signer,
		tokens:     tokens,
		accounts:   accounts,
		defaultTTL: DefaultSessionTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for subject and adds it to the allow-list. A ttl of
// zero or less uses the default session lifetime. Fails with
// CodeDuplicateToken if the identical token is already allow-listed.
func (s *TokenService) Issue(ctx context.Context, subject string, ttl time.Duration) (_ *SessionToken, err error) {
	ctx, span := tracer.Start(ctx, "auth.token.issue",
		trace.WithAttributes(attribute.String("auth.subject", subject)),
	)
	defer endSpan(span, &err)

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	signed, claims, err := s.signer.Sign(subject, ttl)
	if err != nil {
		RecordTokenOperation("issue", OutcomeError)
		return nil, err
	}

	// Row timestamps come from the signer's clock so they match the claims.
	token, err := NewSessionToken(signed, subject, claims.ExpiresAt, claims.IssuedAt)
	if err != nil {
		RecordTokenOperation("issue", OutcomeError)
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "NewSessionToken").
			Wrap(err)
	}

	if err := s.tokens.Create(ctx, token); err != nil {
		if errors.Is(err, ErrDuplicate) {
			RecordTokenOperation("issue", OutcomeDuplicate)
			return nil, oops.Code(CodeDuplicateToken).
				With("subject", subject).
				Errorf("identical token already issued")
		}
		RecordTokenOperation("issue", OutcomeError)
		return nil, oops.Code("TOKEN_ISSUE_FAILED").
			With("operation", "Create").
			With("subject", subject).
			Wrap(err)
	}

	RecordTokenOperation("issue", OutcomeIssued)
	return token, nil
}

// Validate checks that token is on the allow-list. The signature is not
// inspected.
func (s *TokenService) Validate(ctx context.Context, token string) error {
	if _, err := s.tokens.GetByHash(ctx, HashSessionToken(token)); err != nil {
		if errors.Is(err, ErrNotFound) {
			RecordTokenOperation("validate", OutcomeDenied)
			return oops.Code(CodeTokenNotFound).Errorf("token is not active")
		}
		RecordTokenOperation("validate", OutcomeError)
		return oops.Code("TOKEN_VALIDATE_FAILED").
			With("operation", "GetByHash").
			Wrap(err)
	}
	RecordTokenOperation("validate", OutcomeAllowed)
	return nil
}

// Parse verifies the signature and expiry of token. An expired token is
// removed from the allow-list before CodeTokenExpired is returned.
func (s *TokenService) Parse(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.signer.Parse(token)
	if err == nil {
		RecordTokenOperation("parse", OutcomeAllowed)
		return claims, nil
	}

	RecordTokenOperation("parse", OutcomeDenied)
	if ErrorCode(err) == CodeTokenExpired {
		if delErr := s.tokens.Delete(ctx, HashSessionToken(token)); delErr != nil {
			errutil.LogError(s.logger, "expired token cleanup failed", delErr)
		}
	}
	return nil, err
}

// Invalidate removes token from the allow-list. Removing an absent token is
// not an error.
func (s *TokenService) Invalidate(ctx context.Context, token string) error {
	if err := s.tokens.Delete(ctx, HashSessionToken(token)); err != nil {
		RecordTokenOperation("invalidate", OutcomeError)
		return oops.Code("TOKEN_INVALIDATE_FAILED").
			With("operation", "Delete").
			Wrap(err)
	}
	RecordTokenOperation("invalidate", OutcomeAllowed)
	return nil
}

// InvalidateAll removes every token of subject and returns the count removed.
func (s *TokenService) InvalidateAll(ctx context.Context, subject string) (int64, error) {
	n, err := s.tokens.DeleteBySubject(ctx, subject)
	if err != nil {
		RecordTokenOperation("invalidate_all", OutcomeError)
		return 0, oops.Code("TOKEN_INVALIDATE_FAILED").
			With("operation", "DeleteBySubject").
			With("subject", subject).
			Wrap(err)
	}
	RecordTokenOperation("invalidate_all", OutcomeAllowed)
	return n, nil
}

// Authenticate resolves a bearer token to a Principal. The token must carry
// a valid signature, belong to a known account and be allow-listed.
func (s *TokenService) Authenticate(ctx context.Context, bearer string) (_ *Principal, err error) {
	ctx, span := tracer.Start(ctx, "auth.token.authenticate")
	defer endSpan(span, &err)

	claims, err := s.Parse(ctx, bearer)
	if err != nil {
		RecordTokenOperation("authenticate", OutcomeDenied)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.subject", claims.Subject))

	hash, err := s.accounts.CredentialHash(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			RecordTokenOperation("authenticate", OutcomeDenied)
			return nil, oops.Code(CodeAccountUnknown).
				With("subject", claims.Subject).
				Errorf("token subject has no account")
		}
		RecordTokenOperation("authenticate", OutcomeError)
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "CredentialHash").
			With("subject", claims.Subject).
			Wrap(err)
	}

	if err := s.Validate(ctx, bearer); err != nil {
		RecordTokenOperation("authenticate", OutcomeDenied)
		return nil, err
	}

	RecordTokenOperation("authenticate", OutcomeAllowed)
	return &Principal{
		Subject:        claims.Subject,
		CredentialHash: hash,
		ExpiresAt:      claims.ExpiresAt,
		Token:          bearer,
	}, nil
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
