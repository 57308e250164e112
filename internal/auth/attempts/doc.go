// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package attempts provides auth.AttemptCache implementations: a
// process-local bounded LRU and a Redis-backed cache for multi-node
// deployments.
//
// Both use a fixed window measured from the first increment. Entries do
// not slide on later writes.
package attempts
