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

// OTPRepository implements auth.OTPRepository using PostgreSQL.
type OTPRepository struct {
	db DB
}

// NewOTPRepository creates a new OTPRepository.
func NewOTPRepository(db DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// GetBySubject retrieves the outstanding passcode for subject.
func (r *OTPRepository) GetBySubject(ctx context.Context, subject string) (*auth.OTPRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, subject, code, generated_at
		FROM otp_codes
		WHERE subject = $1
	`, subject)

	rec, err := scanOTP(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("OTP_NOT_FOUND").
			With("subject", subject).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("OTP_GET_FAILED").
			With("operation", "get otp by subject").
			With("subject", subject).
			Wrap(err)
	}
	return rec, nil
}

// GetBySubjectAndCode retrieves the passcode only if subject and code match.
func (r *OTPRepository) GetBySubjectAndCode(ctx context.Context, subject, code string) (*auth.OTPRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, subject, code, generated_at
		FROM otp_codes
		WHERE subject = $1 AND code = $2
	`, subject, code)

	rec, err := scanOTP(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("OTP_NOT_FOUND").
			With("subject", subject).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("OTP_GET_FAILED").
			With("operation", "get otp by subject and code").
			With("subject", subject).
			Wrap(err)
	}
	return rec, nil
}

// Upsert stores the passcode. An existing row for the subject keeps its ID
// and takes the new code and timestamp.
func (r *OTPRepository) Upsert(ctx context.Context, record *auth.OTPRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO otp_codes (id, subject, code, generated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE
		SET code = EXCLUDED.code, generated_at = EXCLUDED.generated_at
	`,
		record.ID.String(),
		record.Subject,
		record.Code,
		record.GeneratedAt,
	)
	if err != nil {
		return oops.Code("OTP_UPSERT_FAILED").
			With("operation", "upsert otp_code").
			With("subject", record.Subject).
			Wrap(err)
	}
	return nil
}

// Delete removes the passcode for subject. A missing row is not an error.
func (r *OTPRepository) Delete(ctx context.Context, subject string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM otp_codes WHERE subject = $1`, subject)
	if err != nil {
		return oops.Code("OTP_DELETE_FAILED").
			With("operation", "delete otp_code").
			With("subject", subject).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes passcodes generated before the cutoff.
func (r *OTPRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM otp_codes WHERE generated_at < $1`, before)
	if err != nil {
		return 0, oops.Code("OTP_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired otp_codes").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanOTP scans a single row. pgx.ErrNoRows is returned unchanged. Scan
// failures carry no code so the calling query's code applies.
func scanOTP(row pgx.Row) (*auth.OTPRecord, error) {
	var (
		idStr       string
		subject     string
		code        string
		generatedAt time.Time
	)
	if err := row.Scan(&idStr, &subject, &code, &generatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.
			With("operation", "scan otp_code").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("OTP_INVALID_ID").
			With("operation", "parse otp id").
			With("id", idStr).
			Wrap(err)
	}
	return &auth.OTPRecord{
		ID:          id,
		Subject:     subject,
		Code:        code,
		GeneratedAt: generatedAt,
	}, nil
}
