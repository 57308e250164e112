// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides step-up authentication: one-time passcodes with
// attempt limiting, and short-lived signed session tokens backed by an
// allow-list.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewOTPRecord - creates an OTPRecord with a validated subject and code
//   - NewSessionToken - creates a SessionToken with a validated subject and expiry
//   - NewAccount - creates an Account for directory adapters that own account rows
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - OTPService - passcode generation, retry limiting, verification, delivery handoff
//   - TokenService - session token issue, parse, allow-list validation, revocation
//   - Sweeper - periodic removal of expired passcodes and tokens
//
// TokenSigner holds the cryptographic half of token handling and performs no I/O.
// Dispatcher delivers passcodes asynchronously through a Notifier.
package auth
