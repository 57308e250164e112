// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (subject, email, display_name, credential_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		account.Subject,
		account.Email,
		account.DisplayName,
		account.CredentialHash,
		account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("subject", account.Subject).
				Wrap(auth.ErrDuplicate)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("subject", account.Subject).
			Wrap(err)
	}
	return nil
}

// Exists reports whether subject names an account.
func (r *AccountRepository) Exists(ctx context.Context, subject string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE subject = $1)
	`, subject).Scan(&exists)
	if err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").
			With("operation", "check account exists").
			With("subject", subject).
			Wrap(err)
	}
	return exists, nil
}

// CredentialHash returns the stored credential hash for subject.
func (r *AccountRepository) CredentialHash(ctx context.Context, subject string) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, `
		SELECT credential_hash FROM accounts WHERE subject = $1
	`, subject).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("ACCOUNT_NOT_FOUND").
			With("subject", subject).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get credential hash").
			With("subject", subject).
			Wrap(err)
	}
	return hash, nil
}

// Contact returns the delivery details for subject.
func (r *AccountRepository) Contact(ctx context.Context, subject string) (*auth.Contact, error) {
	var c auth.Contact
	err := r.db.QueryRow(ctx, `
		SELECT email, display_name FROM accounts WHERE subject = $1
	`, subject).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("subject", subject).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get contact").
			With("subject", subject).
			Wrap(err)
	}
	return &c, nil
}
