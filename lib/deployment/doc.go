// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deployment owns the lifecycle records of model deployments.
//
// A record enters the registry only after the node agent confirms the
// deployment, so a failed dispatch never leaves a trace. From there it
// may gain a public route, and it leaves the registry when the agent
// confirms the stop:
//
//	Dispatched → Running → (Routed) → Stopped
//
// The registry is guarded by one mutex. Stop resolution reads the
// owning node's telemetry while still holding it (lock order: registry,
// then fleet state store), so a deployment's record and the address
// used to stop it come from one critical section. No network I/O ever
// happens under the lock.
//
// An optional Journal persists records to SQLite so a restarted
// controller still knows what it deployed. Journal writes happen after
// the in-memory change and outside the lock; each write carries a
// registry-wide version so a delayed write never overwrites a newer
// one.
package deployment
