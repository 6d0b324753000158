// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds binary entrypoint helpers: fatal error reporting
// before a logger exists, and supervision of long-lived background
// workers so a panic in one worker does not take the process down.
package process
