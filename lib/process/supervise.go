// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
)

// SuperviseConfig configures Supervise.
type SuperviseConfig struct {
	// Name identifies the worker in log output.
	Name string

	// RestartDelay is the pause between a worker exit and its
	// restart. Defaults to 5 seconds.
	RestartDelay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Supervise runs worker until ctx is cancelled, restarting it whenever
// it returns or panics. A panic is recovered, logged with its stack,
// and counted as an exit. Returns ctx.Err() once the context ends.
//
// onRestart, when non-nil, is called before each restart with the
// number of restarts so far. The controller uses it to count restarts
// in metrics.
func Supervise(ctx context.Context, config SuperviseConfig, worker func(context.Context) error, onRestart func(restarts int)) error {
	delay := config.RestartDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	restarts := 0
	for {
		err := runRecovered(ctx, worker)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Error("supervised worker exited",
				"worker", config.Name,
				"error", err,
				"restart_in", delay,
			)
		} else {
			logger.Warn("supervised worker returned without error",
				"worker", config.Name,
				"restart_in", delay,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}

		restarts++
		if onRestart != nil {
			onRestart(restarts)
		}
		logger.Info("restarting supervised worker", "worker", config.Name, "restarts", restarts)
	}
}

// runRecovered calls worker and converts a panic into an error.
func runRecovered(ctx context.Context, worker func(context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return worker(ctx)
}
