// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Contact holds the delivery details for an account.
type Contact struct {
	Email string
	Name  string
}

// AccountDirectory is the read side of the account store this package
// depends on. Account records themselves are owned elsewhere.
type AccountDirectory interface {
	// Exists reports whether subject names a known account.
	Exists(ctx context.Context, subject string) (bool, error)

	// CredentialHash returns the current credential hash for subject.
	// Returns ErrNotFound if the account does not exist.
	CredentialHash(ctx context.Context, subject string) (string, error)

	// Contact returns the delivery details for subject.
	// Returns ErrNotFound if the account does not exist.
	Contact(ctx context.Context, subject string) (*Contact, error)
}

// AccountRepository extends AccountDirectory with account creation, used by
// the adapters that own account rows and by seeding tools.
type AccountRepository interface {
	AccountDirectory

	// Create stores a new account. Returns ErrDuplicate if the subject is taken.
	Create(ctx context.Context, account *Account) error
}

// Account is an account row as held by a directory adapter.
type Account struct {
	Subject        string
	Email          string
	DisplayName    string
	CredentialHash string
	CreatedAt      time.Time
}

// NewAccount creates a validated Account.
func NewAccount(subject, email, displayName, credentialHash string) (*Account, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, oops.Code("ACCOUNT_INVALID_SUBJECT").Errorf("subject cannot be empty")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").With("email", email).Wrap(err)
	}
	if credentialHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_CREDENTIAL").Errorf("credential hash cannot be empty")
	}
	return &Account{
		Subject:        subject,
		Email:          email,
		DisplayName:    strings.TrimSpace(displayName),
		CredentialHash: credentialHash,
		CreatedAt:      time.Now(),
	}, nil
}
