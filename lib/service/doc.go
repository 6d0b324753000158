// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the scaffolding modelfleet's long-running
// processes share:
//
//   - HTTPServer: TCP listener lifecycle with readiness signalling and
//     graceful shutdown. The caller supplies the http.Handler.
//   - Announce: one-shot registration with the fleet's HTTP service
//     registry, retried with exponential backoff while the registry is
//     unreachable.
//
// Binaries compose these in their own main() rather than subclassing a
// framework.
package service
