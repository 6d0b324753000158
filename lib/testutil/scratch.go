// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
)

// DatabasePath returns a path for a SQLite file inside a per-test
// temporary directory. The directory is removed when the test ends.
func DatabasePath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

// Logger returns a debug-level slog.Logger that writes through t.Log,
// so log lines appear next to the failing test and only under -v.
// Writes from goroutines that outlive the test are dropped.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	writer := &testWriter{t: t}
	t.Cleanup(func() {
		writer.mu.Lock()
		writer.finished = true
		writer.mu.Unlock()
	})
	return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t        *testing.T
	mu       sync.Mutex
	finished bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.finished {
		w.t.Log(string(p))
	}
	return len(p), nil
}
