// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/internal/auth/memory"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestOTPRepository(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOTPRepository()

	_, err := repo.GetBySubject(ctx, "100000")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	first, err := auth.NewOTPRecord("100000", "123456", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, first))

	second, err := auth.NewOTPRecord("100000", "654321", t0.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(ctx, second))
	assert.Equal(t, 1, repo.Len(), "one record per subject")

	got, err := repo.GetBySubject(ctx, "100000")
	require.NoError(t, err)
	assert.Equal(t, "654321", got.Code)
	assert.Equal(t, first.ID, got.ID)

	_, err = repo.GetBySubjectAndCode(ctx, "100000", "123456")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = repo.GetBySubjectAndCode(ctx, "100000", "654321")
	assert.NoError(t, err)

	n, err := repo.DeleteExpired(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = repo.DeleteExpired(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.NoError(t, repo.Delete(ctx, "100000"))
}

func TestTokenRepository(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTokenRepository()

	a, err := auth.NewSessionToken("a.b.c", "100000", t0.Add(time.Minute), t0)
	require.NoError(t, err)
	b, err := auth.NewSessionToken("d.e.f", "100000", t0.Add(time.Hour), t0)
	require.NoError(t, err)
	c, err := auth.NewSessionToken("g.h.i", "200000", t0.Add(time.Hour), t0)
	require.NoError(t, err)

	for _, tok := range []*auth.SessionToken{a, b, c} {
		require.NoError(t, repo.Create(ctx, tok))
	}
	assert.ErrorIs(t, repo.Create(ctx, a), auth.ErrDuplicate)

	got, err := repo.GetByHash(ctx, a.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, "100000", got.Subject)
	assert.Empty(t, got.Token, "signed string is not retained")

	n, err := repo.DeleteExpired(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteBySubject(ctx, "100000")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, repo.Len())

	require.NoError(t, repo.Delete(ctx, c.TokenHash))
	require.NoError(t, repo.Delete(ctx, c.TokenHash))
	_, err = repo.GetByHash(ctx, c.TokenHash)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()
	acct, err := auth.NewAccount("100000", "ana@example.com", "Ana", "$argon2id$hash")
	require.NoError(t, err)
	repo := memory.NewAccountRepository(acct)

	ok, err := repo.Exists(ctx, "100000")
	require.NoError(t, err)
	assert.True(t, ok)

	hash, err := repo.CredentialHash(ctx, "100000")
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$hash", hash)

	contact, err := repo.Contact(ctx, "100000")
	require.NoError(t, err)
	assert.Equal(t, &auth.Contact{Email: "ana@example.com", Name: "Ana"}, contact)

	assert.ErrorIs(t, repo.Create(ctx, acct), auth.ErrDuplicate)

	repo.Delete("100000")
	_, err = repo.CredentialHash(ctx, "100000")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	_, err = repo.Contact(ctx, "100000")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
