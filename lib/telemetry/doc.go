// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the per-node system-metrics record and its
// wire format.
//
// A record has a strict core the scheduler depends on (node id,
// address, CPU and memory percent, timestamp) and an opaque bag of
// every other top-level block the reporter sent (disk, network, swap,
// load, process counts). The bag is carried through to status output
// untouched so reporters can add metrics without a controller change.
//
// Payloads are JSON by default or CBOR when the content type says so,
// optionally compressed with zstd or LZ4 (see lib/codec).
package telemetry
