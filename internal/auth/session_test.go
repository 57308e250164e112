// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/pkg/errutil"
)

func TestHashSessionToken(t *testing.T) {
	t.Run("produces consistent hash", func(t *testing.T) {
		assert.Equal(t, auth.HashSessionToken("a.b.c"), auth.HashSessionToken("a.b.c"))
	})

	t.Run("produces different hashes for different tokens", func(t *testing.T) {
		assert.NotEqual(t, auth.HashSessionToken("a.b.c"), auth.HashSessionToken("a.b.d"))
	})

	t.Run("hash is SHA256 hex-encoded", func(t *testing.T) {
		assert.Len(t, auth.HashSessionToken("anytoken"), 64)
	})
}

func TestNewSessionToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("valid token", func(t *testing.T) {
		tok, err := auth.NewSessionToken("a.b.c", "100000", now.Add(time.Minute), now)
		require.NoError(t, err)
		assert.Equal(t, "a.b.c", tok.Token)
		assert.Equal(t, auth.HashSessionToken("a.b.c"), tok.TokenHash)
		assert.Equal(t, "100000", tok.Subject)
		assert.False(t, tok.ID.IsZero())
	})

	tests := []struct {
		name      string
		token     string
		subject   string
		expiresAt time.Time
		code      string
	}{
		{"empty token", "", "100000", now.Add(time.Minute), "SESSION_INVALID_TOKEN"},
		{"empty subject", "a.b.c", "", now.Add(time.Minute), "SESSION_INVALID_SUBJECT"},
		{"zero expiry", "a.b.c", "100000", time.Time{}, "SESSION_INVALID_EXPIRY"},
		{"expiry before creation", "a.b.c", "100000", now.Add(-time.Minute), "SESSION_INVALID_EXPIRY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.NewSessionToken(tt.token, tt.subject, tt.expiresAt, now)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestSessionToken_IsExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tok, err := auth.NewSessionToken("a.b.c", "100000", now.Add(time.Minute), now)
	require.NoError(t, err)

	assert.False(t, tok.IsExpiredAt(now))
	assert.False(t, tok.IsExpiredAt(now.Add(time.Minute)))
	assert.True(t, tok.IsExpiredAt(now.Add(time.Minute+time.Nanosecond)))
}
