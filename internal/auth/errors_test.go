// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/stepup/internal/auth"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, auth.CodeInvalidOTP, auth.ErrorCode(oops.Code(auth.CodeInvalidOTP).Errorf("x")))
	assert.Empty(t, auth.ErrorCode(errors.New("plain")))
	assert.Empty(t, auth.ErrorCode(nil))
}

func TestRetryWaitMinutes(t *testing.T) {
	err := oops.Code(auth.CodeRetryLimitExceeded).With(auth.WaitMinutesKey, 7).Errorf("limited")
	wait, ok := auth.RetryWaitMinutes(err)
	assert.True(t, ok)
	assert.Equal(t, 7, wait)

	_, ok = auth.RetryWaitMinutes(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsTokenDenial(t *testing.T) {
	for _, code := range []string{
		auth.CodeTokenNotFound, auth.CodeTokenExpired, auth.CodeTokenMalformed,
		auth.CodeTokenBadSignature, auth.CodeTokenEmpty, auth.CodeAccountUnknown,
	} {
		assert.True(t, auth.IsTokenDenial(oops.Code(code).Errorf("denied")), code)
	}
	assert.False(t, auth.IsTokenDenial(oops.Code(auth.CodeDuplicateToken).Errorf("dup")))
	assert.False(t, auth.IsTokenDenial(errors.New("plain")))
}
