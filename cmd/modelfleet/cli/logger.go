// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/modelfleet/lib/service"
)

// EnvLogLevel overrides the CLI's log level (debug, info, warn, error).
const EnvLogLevel = "MODELFLEET_LOG_LEVEL"

// NewCommandLogger creates a structured logger for CLI commands.
// Human-readable text when stderr is a terminal, JSON when piped.
// Defaults to warn so normal runs print only command output.
func NewCommandLogger() *slog.Logger {
	level := slog.LevelWarn
	if name := os.Getenv(EnvLogLevel); name != "" {
		level = service.ParseLevel(name)
	}
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}
