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

// OTPRepository keeps one passcode per subject in a map.
type OTPRepository struct {
	mu      sync.Mutex
	records map[string]auth.OTPRecord
}

// NewOTPRepository creates an empty OTPRepository.
func NewOTPRepository() *OTPRepository {
	return &OTPRepository{records: make(map[string]auth.OTPRecord)}
}

// GetBySubject retrieves the outstanding record for subject.
func (r *OTPRepository) GetBySubject(_ context.Context, subject string) (*auth.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[subject]
	if !ok {
		return nil, oops.Code("OTP_NOT_FOUND").With("subject", subject).Wrap(auth.ErrNotFound)
	}
	return &rec, nil
}

// GetBySubjectAndCode retrieves the record only if both subject and code match.
func (r *OTPRepository) GetBySubjectAndCode(_ context.Context, subject, code string) (*auth.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[subject]
	if !ok || rec.Code != code {
		return nil, oops.Code("OTP_NOT_FOUND").With("subject", subject).Wrap(auth.ErrNotFound)
	}
	return &rec, nil
}

// Upsert stores the record. An existing record keeps its ID.
func (r *OTPRepository) Upsert(_ context.Context, record *auth.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := *record
	if existing, ok := r.records[rec.Subject]; ok {
		rec.ID = existing.ID
	}
	r.records[rec.Subject] = rec
	return nil
}

// Delete removes the record for subject.
func (r *OTPRepository) Delete(_ context.Context, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, subject)
	return nil
}

// DeleteExpired removes records generated before the cutoff.
func (r *OTPRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for subject, rec := range r.records {
		if rec.GeneratedAt.Before(before) {
			delete(r.records, subject)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (r *OTPRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
