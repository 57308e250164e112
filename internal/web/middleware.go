// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/pkg/errutil"
)

// HeaderRequestID carries the request correlation ID in both directions.
const HeaderRequestID = "X-Request-ID"

// UnauthorizedMessage is the plain-text body of every bearer denial.
const UnauthorizedMessage = "Unauthorized: full authentication is required to access this resource"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	principalKey
)

// RequestID returns the correlation ID assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	return p, ok
}

// recoveryLogger adapts slog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct{ h *Handler }

func (l recoveryLogger) Println(v ...any) {
	l.h.logger.Error("panic serving request", "panic", v)
}

func (h *Handler) wrap(next http.Handler) http.Handler {
	logged := handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		h.logger.Info("request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"bytes", p.Size,
			"request_id", p.Request.Header.Get(HeaderRequestID),
		)
	})
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{h}),
		handlers.PrintRecoveryStack(false),
	)(logged)
}

// requestID reuses an inbound X-Request-ID or mints a UUID.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe reports each request under its route template.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.observer == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		h.observer.ObserveRequest(route, r.Method, rec.status, time.Since(start))
	})
}

// requireBearer authenticates Authorization: Bearer <token>. Every denial
// gets the same plain-text 401; lookup failures are 500.
func (h *Handler) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w)
			return
		}

		principal, err := h.tokens.Authenticate(r.Context(), token)
		if err != nil {
			if auth.IsTokenDenial(err) {
				h.logger.DebugContext(r.Context(), "bearer denied",
					"code", auth.ErrorCode(err),
					"request_id", RequestID(r.Context()))
				unauthorized(w)
				return
			}
			errutil.LogErrorContext(r.Context(), h.logger, "bearer authentication failed", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	//nolint:errcheck // client may disconnect
	io.WriteString(w, UnauthorizedMessage)
}
