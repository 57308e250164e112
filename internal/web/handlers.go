// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 16

type subjectRequest struct {
	Subject string `json:"subject"`
}

type verifyRequest struct {
	Subject string `json:"subject"`
	Code    string `json:"code"`
}

type issueRequest struct {
	Subject    string `json:"subject"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// decode reads a bounded JSON body into dst. Unknown fields are rejected.
func decode(r *http.Request, w http.ResponseWriter, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return oops.Code(CodeRequestInvalid).Wrapf(err, "invalid JSON body")
	}
	return nil
}

func (h *Handler) invalidRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, CodeRequestInvalid, requestMessage(err))
}

func requestMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if _, ok := oopsErr.Context()["field"]; ok {
			return oopsErr.Error()
		}
	}
	return "invalid request body"
}

// generateOTP handles POST /otp/generate. Delivery runs in the background;
// its failures are logged by the service, not returned.
func (h *Handler) generateOTP(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if err := decode(r, w, &req); err != nil {
		h.invalidRequest(w, err)
		return
	}
	if err := requireField("subject", req.Subject); err != nil {
		h.invalidRequest(w, err)
		return
	}

	if _, err := h.otp.RequestAndSend(r.Context(), req.Subject); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "code sent"})
}

// verifyOTP handles POST /otp/verify. An expired passcode is a 200 with
// valid false; an unknown one is a 401.
func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := h.decodeVerify(w, r, &req); err != nil {
		h.invalidRequest(w, err)
		return
	}

	valid, err := h.otp.VerifyOTP(r.Context(), req.Subject, req.Code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// loginOTP handles POST /otp/login: verify the passcode, then issue a
// session token with the default TTL.
func (h *Handler) loginOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := h.decodeVerify(w, r, &req); err != nil {
		h.invalidRequest(w, err)
		return
	}

	valid, err := h.otp.VerifyOTP(r.Context(), req.Subject, req.Code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !valid {
		h.respondError(w, r, oops.Code(auth.CodeOTPExpired).With("subject", req.Subject).Errorf("passcode expired"))
		return
	}

	tok, err := h.tokens.Issue(r.Context(), req.Subject, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

func (h *Handler) decodeVerify(w http.ResponseWriter, r *http.Request, req *verifyRequest) error {
	if err := decode(r, w, req); err != nil {
		return err
	}
	if err := requireField("subject", req.Subject); err != nil {
		return err
	}
	return requireField("code", req.Code)
}

// issueSession handles POST /session/issue. ttlSeconds is optional.
func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decode(r, w, &req); err != nil {
		h.invalidRequest(w, err)
		return
	}
	if err := requireField("subject", req.Subject); err != nil {
		h.invalidRequest(w, err)
		return
	}
	// Compared in seconds so oversized values never reach a Duration multiply.
	maxSeconds := int64(h.maxTTL / time.Second)
	if req.TTLSeconds < 0 || int64(req.TTLSeconds) > maxSeconds {
		h.invalidRequest(w, oops.Code(CodeRequestInvalid).
			With("field", "ttlSeconds").
			With("max", maxSeconds).
			Errorf("ttlSeconds must be between 0 and %d", maxSeconds))
		return
	}

	tok, err := h.tokens.Issue(r.Context(), req.Subject, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

// invalidateSession handles POST /session/invalidate. Unknown tokens succeed.
func (h *Handler) invalidateSession(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(r, w, &req); err != nil {
		h.invalidRequest(w, err)
		return
	}
	if err := requireField("token", req.Token); err != nil {
		h.invalidRequest(w, err)
		return
	}

	if err := h.tokens.Invalidate(r.Context(), req.Token); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// me handles GET /session/me.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":   p.Subject,
		"expiresAt": p.ExpiresAt,
	})
}

// invalidateAll handles POST /session/invalidate-all for the bearer's subject.
func (h *Handler) invalidateAll(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		unauthorized(w)
		return
	}

	n, err := h.tokens.InvalidateAll(r.Context(), p.Subject)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"invalidated": n})
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return oops.Code(CodeRequestInvalid).With("field", name).Errorf("%s is required", name)
	}
	return nil
}
