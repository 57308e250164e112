// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"net/http"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/pkg/errutil"
)

// CodeRequestInvalid marks malformed request bodies.
const CodeRequestInvalid = "REQUEST_INVALID"

type errorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code"`
	WaitMinutes int    `json:"waitMinutes,omitempty"`
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case auth.CodeAccountNotFound:
		return http.StatusNotFound
	case auth.CodeRetryLimitExceeded, CodeRequestInvalid:
		return http.StatusBadRequest
	case auth.CodeInvalidOTP, auth.CodeOTPExpired,
		auth.CodeTokenNotFound, auth.CodeTokenExpired, auth.CodeTokenMalformed,
		auth.CodeTokenBadSignature, auth.CodeTokenEmpty, auth.CodeAccountUnknown:
		return http.StatusUnauthorized
	case auth.CodeDuplicateToken:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var messages = map[string]string{
	auth.CodeAccountNotFound:    "account not found",
	auth.CodeRetryLimitExceeded: "too many passcode requests",
	auth.CodeInvalidOTP:         "invalid passcode",
	auth.CodeOTPExpired:         "passcode expired",
	auth.CodeTokenNotFound:      "token not recognised",
	auth.CodeTokenExpired:       "token expired",
	auth.CodeTokenMalformed:     "token malformed",
	auth.CodeTokenBadSignature:  "token signature invalid",
	auth.CodeTokenEmpty:         "token missing",
	auth.CodeAccountUnknown:     "account not recognised",
	auth.CodeDuplicateToken:     "token already issued",
}

// respondError writes err as JSON. Infrastructure failures are logged and
// reported without detail.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := auth.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), h.logger.With("request_id", RequestID(r.Context())), "request failed", err)
		writeError(w, status, "INTERNAL", "internal error")
		return
	}

	body := errorBody{Error: messages[code], Code: code}
	if wait, ok := auth.RetryWaitMinutes(err); ok {
		body.WaitMinutes = wait
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
