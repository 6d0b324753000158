// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the binary encodings modelfleet shares between
// producers and consumers.
//
// CBOR (fxamacker/cbor, Core Deterministic Encoding) is the compact
// alternative to JSON for telemetry payloads and the row format of the
// deployment journal. Types that cross both JSON and CBOR boundaries
// carry only json struct tags; fxamacker falls back to them.
//
// Compression (zstd via klauspost/compress, LZ4 frames via
// pierrec/lz4) is applied to telemetry payloads by reporters that opt
// in, and is named on the wire by the Content-Encoding header.
package codec
