// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test immediately unless err carries oops metadata.
func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode checks the code that callers see, which for a wrapped
// chain is the innermost one set.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equalf(t, code, oopsErr.Code(), "error code mismatch for %q", oopsErr.Error())
}

// AssertErrorContext checks one key of the merged context across the chain.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	got, ok := ctx[key]
	if !assert.Truef(t, ok, "context key %q missing; have %v", key, ctx) {
		return
	}
	assert.Equal(t, value, got)
}
