// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// AccountRepository is a map-backed account directory.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]auth.Account
}

// NewAccountRepository creates a directory seeded with accounts.
func NewAccountRepository(accounts ...*auth.Account) *AccountRepository {
	r := &AccountRepository{accounts: make(map[string]auth.Account, len(accounts))}
	for _, a := range accounts {
		r.accounts[a.Subject] = *a
	}
	return r
}

// Create stores a new account.
func (r *AccountRepository) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.Subject]; ok {
		return oops.Code("ACCOUNT_DUPLICATE").With("subject", account.Subject).Wrap(auth.ErrDuplicate)
	}
	r.accounts[account.Subject] = *account
	return nil
}

// Exists reports whether subject is known.
func (r *AccountRepository) Exists(_ context.Context, subject string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.accounts[subject]
	return ok, nil
}

// CredentialHash returns the credential hash for subject.
func (r *AccountRepository) CredentialHash(_ context.Context, subject string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[subject]
	if !ok {
		return "", oops.Code("ACCOUNT_NOT_FOUND").With("subject", subject).Wrap(auth.ErrNotFound)
	}
	return a.CredentialHash, nil
}

// Contact returns the delivery details for subject.
func (r *AccountRepository) Contact(_ context.Context, subject string) (*auth.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[subject]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("subject", subject).Wrap(auth.ErrNotFound)
	}
	return &auth.Contact{Email: a.Email, Name: a.DisplayName}, nil
}

// Delete removes an account.
func (r *AccountRepository) Delete(subject string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, subject)
}
