// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler picks the node that should host a new deployment.
//
// A decision works on one snapshot of the fleet state store:
//
//  1. Drop nodes whose telemetry is older than the staleness window.
//  2. Unless connectivity probing is disabled, drop nodes whose agent
//     does not answer its health endpoint. Probe results are cached in
//     the store for the health TTL, and probes run concurrently with no
//     lock held.
//  3. Score the survivors with 0.7*cpu + 0.3*memory, treating a missing
//     metric as 100, and take the lowest score. Exact ties go to the
//     lexically smallest node id so the same snapshot always yields the
//     same node.
//
// Telemetry that arrives during a decision is not observed until the
// next one.
package scheduler
