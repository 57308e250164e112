// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes the passcode and session operations over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/holomush/stepup/internal/auth"
)

// Route paths.
const (
	PathOTPGenerate          = "/otp/generate"
	PathOTPVerify            = "/otp/verify"
	PathOTPLogin             = "/otp/login"
	PathSessionIssue         = "/session/issue"
	PathSessionInvalidate    = "/session/invalidate"
	PathSessionMe            = "/session/me"
	PathSessionInvalidateAll = "/session/invalidate-all"
)

// OTPFlow is the passcode side of the API.
type OTPFlow interface {
	RequestAndSend(ctx context.Context, subject string) (*auth.Delivery, error)
	VerifyOTP(ctx context.Context, subject, code string) (bool, error)
}

// TokenFlow is the session side of the API.
type TokenFlow interface {
	Issue(ctx context.Context, subject string, ttl time.Duration) (*auth.SessionToken, error)
	Invalidate(ctx context.Context, token string) error
	InvalidateAll(ctx context.Context, subject string) (int64, error)
	Authenticate(ctx context.Context, bearer string) (*auth.Principal, error)
}

// RequestObserver records finished requests, typically as metrics.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// Handler serves the API.
type Handler struct {
	otp      OTPFlow
	tokens   TokenFlow
	logger   *slog.Logger
	observer RequestObserver
	maxTTL   time.Duration
	root     http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver sets the request observer.
func WithObserver(o RequestObserver) Option {
	return func(h *Handler) { h.observer = o }
}

// WithMaxSessionTTL caps the ttlSeconds a caller may request.
func WithMaxSessionTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.maxTTL = ttl
		}
	}
}

// NewHandler wires the routes.
func NewHandler(otp OTPFlow, tokens TokenFlow, opts ...Option) (*Handler, error) {
	if otp == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("otp flow cannot be nil")
	}
	if tokens == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("token flow cannot be nil")
	}

	h := &Handler{otp: otp, tokens: tokens, logger: slog.Default(), maxTTL: auth.DefaultMaxSessionTTL}
	for _, opt := range opts {
		opt(h)
	}

	r := mux.NewRouter()
	r.Use(h.requestID, h.observe)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.HandleFunc(PathOTPGenerate, h.generateOTP).Methods(http.MethodPost)
	r.HandleFunc(PathOTPVerify, h.verifyOTP).Methods(http.MethodPost)
	r.HandleFunc(PathOTPLogin, h.loginOTP).Methods(http.MethodPost)
	r.HandleFunc(PathSessionIssue, h.issueSession).Methods(http.MethodPost)
	r.HandleFunc(PathSessionInvalidate, h.invalidateSession).Methods(http.MethodPost)

	bearer := r.NewRoute().Subrouter()
	bearer.Use(h.requireBearer)
	bearer.HandleFunc(PathSessionMe, h.me).Methods(http.MethodGet)
	bearer.HandleFunc(PathSessionInvalidateAll, h.invalidateAll).Methods(http.MethodPost)

	h.root = h.wrap(r)
	return h, nil
}

// ServeHTTP implements http.Handler with panic recovery and access logging
// around the router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}
