// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify implements auth.Notifier transports: SMTP for real mail
// and a logging notifier for development.
package notify
