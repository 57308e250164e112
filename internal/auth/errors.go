// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key is already taken.
var ErrDuplicate = errors.New("duplicate")

// Error codes for denials raised by this package. Infrastructure failures
// carry their own operation-specific codes.
const (
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeRetryLimitExceeded = "OTP_RETRY_LIMIT_EXCEEDED"
	CodeInvalidOTP         = "OTP_INVALID"
	CodeOTPExpired         = "OTP_EXPIRED"
	CodeTokenNotFound      = "TOKEN_NOT_FOUND"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenMalformed     = "TOKEN_MALFORMED"
	CodeTokenBadSignature  = "TOKEN_BAD_SIGNATURE"
	CodeTokenEmpty         = "TOKEN_EMPTY"
	CodeDuplicateToken     = "TOKEN_DUPLICATE"
	CodeAccountUnknown     = "AUTH_ACCOUNT_UNKNOWN"
)

// WaitMinutesKey is the error context key holding the retry-limit wait hint.
const WaitMinutesKey = "wait_minutes"

// ErrorCode returns the oops code attached to err, or "" if there is none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// RetryWaitMinutes extracts the wait hint from a retry-limit error.
func RetryWaitMinutes(err error) (int, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	wait, ok := oopsErr.Context()[WaitMinutesKey].(int)
	return wait, ok
}

// IsTokenDenial reports whether err is one of the token-layer denials.
func IsTokenDenial(err error) bool {
	switch ErrorCode(err) {
	case CodeTokenNotFound, CodeTokenExpired, CodeTokenMalformed,
		CodeTokenBadSignature, CodeTokenEmpty, CodeAccountUnknown:
		return true
	default:
		return false
	}
}
