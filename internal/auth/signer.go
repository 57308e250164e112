// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// MinSigningKeyLen is the minimum HMAC key length in bytes.
const MinSigningKeyLen = 32

// Claims is the verified content of a session token.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenSigner signs and verifies session tokens with HS256. It performs no
// I/O and is safe for concurrent use.
type TokenSigner struct {
	key    []byte
	now    func() time.Time
	parser *jwt.Parser
}

// SignerOption configures a TokenSigner.
type SignerOption func(*TokenSigner)

// WithSignerClock sets the clock used for issued-at and expiry checks.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *TokenSigner) {
		s.now = now
	}
}

// NewTokenSigner creates a TokenSigner for the given secret key.
func NewTokenSigner(key []byte, opts ...SignerOption) (*TokenSigner, error) {
	if len(key) < MinSigningKeyLen {
		return nil, oops.Code("SIGNER_KEY_TOO_SHORT").
			With("min_bytes", MinSigningKeyLen).
			Errorf("signing key must be at least %d bytes", MinSigningKeyLen)
	}
	s := &TokenSigner{
		key: append([]byte(nil), key...),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// Sign returns a signed token for subject valid for ttl.
func (s *TokenSigner) Sign(subject string, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, oops.Code("SIGNER_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if ttl <= 0 {
		return "", nil, oops.Code("SIGNER_INVALID_TTL").With("ttl", ttl).Errorf("ttl must be positive")
	}

	issued := s.now().Truncate(time.Second)
	claims := &Claims{
		Subject:   subject,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", nil, oops.Code("SIGNER_SIGN_FAILED").With("subject", subject).Wrap(err)
	}
	return signed, claims, nil
}

// Parse verifies token and returns its claims. Failures carry exactly one of
// CodeTokenEmpty, CodeTokenMalformed, CodeTokenBadSignature or
// CodeTokenExpired. The signature is checked over the raw header and payload
// before any claim is decoded.
func (s *TokenSigner) Parse(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, oops.Code(CodeTokenEmpty).Errorf("token is empty")
	}

	parts := strings.Split(token, ".")
	if !wellFormed(parts) {
		return nil, oops.Code(CodeTokenMalformed).Errorf("token is not a compact JWS")
	}

	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return nil, oops.Code(CodeTokenBadSignature).Errorf("token signature does not verify")
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, s.key); err != nil {
		return nil, oops.Code(CodeTokenBadSignature).Errorf("token signature does not verify")
	}

	var registered jwt.RegisteredClaims
	if _, err := s.parser.ParseWithClaims(token, &registered, s.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).
				With("subject", registered.Subject).
				Errorf("token has expired")
		}
		return nil, oops.Code(CodeTokenMalformed).Wrap(err)
	}
	if registered.Subject == "" {
		return nil, oops.Code(CodeTokenMalformed).Errorf("token has no subject")
	}

	claims := &Claims{Subject: registered.Subject}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	}
	return claims, nil
}

func (s *TokenSigner) keyFunc(*jwt.Token) (any, error) {
	return s.key, nil
}

func wellFormed(parts []string) bool {
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}
