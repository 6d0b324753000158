// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil collects helpers shared by modelfleet tests: bounded
// channel receives that fail instead of hanging, scratch database
// paths, and a slog logger that writes through t.Log.
package testutil
