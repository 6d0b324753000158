// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the standard service logger on stderr at level and
// makes it the slog default so that third-party code using slog.Info
// etc. gets the same handler. Output is JSON unless stderr is a
// terminal, where the text handler is easier to read.
func NewLogger(level slog.Level) *slog.Logger {
	logger := slog.New(newHandler(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level))
	slog.SetDefault(logger)
	return logger
}

func newHandler(w io.Writer, terminal bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}

// ParseLevel maps "debug", "info", "warn", or "error" to a level.
// Anything else is info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}
