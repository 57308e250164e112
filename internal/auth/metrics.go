// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for auth metrics.
const (
	OutcomeIssued         = "issued"
	OutcomeReused         = "reused"
	OutcomeRetryLimited   = "retry_limited"
	OutcomeUnknownAcct    = "unknown_account"
	OutcomeValid          = "valid"
	OutcomeExpired        = "expired"
	OutcomeInvalid        = "invalid"
	OutcomeSent           = "sent"
	OutcomeFailed         = "failed"
	OutcomeDropped        = "dropped"
	OutcomeAllowed        = "allowed"
	OutcomeDenied         = "denied"
	OutcomeDuplicate      = "duplicate"
	OutcomeError          = "error"
	SweepKindOTP          = "otp"
	SweepKindSessionToken = "session_token"
)

// OTPRequests counts passcode requests by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var OTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stepup_otp_requests_total",
		Help: "Total number of passcode requests",
	},
	[]string{"outcome"},
)

// OTPVerifications counts passcode verifications by outcome.
var OTPVerifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stepup_otp_verifications_total",
		Help: "Total number of passcode verifications",
	},
	[]string{"outcome"},
)

// OTPDeliveries counts passcode deliveries by outcome.
var OTPDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stepup_otp_deliveries_total",
		Help: "Total number of passcode delivery attempts",
	},
	[]string{"outcome"},
)

// TokenOperations counts session token operations by operation and outcome.
var TokenOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stepup_token_operations_total",
		Help: "Total number of session token operations",
	},
	[]string{"operation", "outcome"},
)

// SweptRecords counts records removed by the sweeper.
var SweptRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "stepup_swept_records_total",
		Help: "Total number of expired records removed",
	},
	[]string{"kind"},
)

// DispatchQueueDepth is the number of deliveries waiting for a worker.
var DispatchQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "stepup_dispatch_queue_depth",
		Help: "Current number of queued passcode deliveries",
	},
)

// RegisterMetrics registers auth package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(OTPRequests)
	reg.MustRegister(OTPVerifications)
	reg.MustRegister(OTPDeliveries)
	reg.MustRegister(TokenOperations)
	reg.MustRegister(SweptRecords)
	reg.MustRegister(DispatchQueueDepth)
}

// RecordOTPRequest increments the passcode request counter.
func RecordOTPRequest(outcome string) {
	OTPRequests.WithLabelValues(outcome).Inc()
}

// RecordOTPVerification increments the passcode verification counter.
func RecordOTPVerification(outcome string) {
	OTPVerifications.WithLabelValues(outcome).Inc()
}

// RecordOTPDelivery increments the passcode delivery counter.
func RecordOTPDelivery(outcome string) {
	OTPDeliveries.WithLabelValues(outcome).Inc()
}

// RecordTokenOperation increments the token operation counter.
//   - operation: issue, validate, parse, invalidate, invalidate_all, authenticate
//   - outcome: use Outcome* constants
func RecordTokenOperation(operation, outcome string) {
	TokenOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordSwept adds n removed records of the given kind.
func RecordSwept(kind string, n int64) {
	if n > 0 {
		SweptRecords.WithLabelValues(kind).Add(float64(n))
	}
}
