// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/config"
	"github.com/bureau-foundation/modelfleet/lib/ingest"
)

// ingestWorker connects to the telemetry stream and runs one pipeline
// over it. It is the unit process.Supervise restarts: a stream that is
// down at startup, or a pipeline that panics, is retried after the
// restart delay instead of taking the controller down.
type ingestWorker struct {
	config config.IngestConfig
	sink   ingest.Sink
	clock  clock.Clock
	logger *slog.Logger

	// dial is ingest.DialJetStream outside tests.
	dial func(ctx context.Context, config ingest.JetStreamConfig) (ingest.Source, error)

	current atomic.Pointer[ingest.Pipeline]

	// retired holds the counters of pipelines replaced by a restart,
	// so the exported totals never go backwards.
	retiredMu sync.Mutex
	retired   ingest.Stats
}

func newIngestWorker(cfg config.IngestConfig, sink ingest.Sink, clk clock.Clock, logger *slog.Logger) *ingestWorker {
	return &ingestWorker{
		config: cfg,
		sink:   sink,
		clock:  clk,
		logger: logger,
		dial: func(ctx context.Context, config ingest.JetStreamConfig) (ingest.Source, error) {
			return ingest.DialJetStream(ctx, config)
		},
	}
}

func (w *ingestWorker) run(ctx context.Context) error {
	source, err := w.dial(ctx, ingest.JetStreamConfig{
		URL:          w.config.NATSURL,
		ClientName:   "modelfleet-controller",
		Stream:       w.config.Stream,
		Subject:      w.config.Subject,
		Durable:      w.config.Durable,
		FetchTimeout: w.config.FetchTimeout,
		MaxAge:       w.config.MaxAge,
		Logger:       w.logger,
	})
	if err != nil {
		return fmt.Errorf("connecting telemetry stream: %w", err)
	}
	defer source.Close()

	pipeline, err := ingest.New(ingest.Config{
		Source:            source,
		Sink:              w.sink,
		DegradedThreshold: w.config.DegradedThreshold,
		CooldownThreshold: w.config.CooldownThreshold,
		CooldownDuration:  w.config.CooldownDuration,
		ErrorBackoff:      w.config.ErrorBackoff,
		Clock:             w.clock,
		Logger:            w.logger,
	})
	if err != nil {
		return err
	}
	w.install(pipeline)
	return pipeline.Run(ctx)
}

// install makes pipeline current, folding the previous one's counters
// into retired.
func (w *ingestWorker) install(pipeline *ingest.Pipeline) {
	w.retiredMu.Lock()
	defer w.retiredMu.Unlock()
	if previous := w.current.Swap(pipeline); previous != nil {
		w.retired = addStats(w.retired, previous.Stats())
	}
}

// State implements fleetmetrics.IngestSource. Before the first
// successful connection the worker reports Degraded.
func (w *ingestWorker) State() ingest.State {
	if pipeline := w.current.Load(); pipeline != nil {
		return pipeline.State()
	}
	return ingest.StateDegraded
}

// ConsecutiveErrors implements fleetmetrics.IngestSource.
func (w *ingestWorker) ConsecutiveErrors() int {
	if pipeline := w.current.Load(); pipeline != nil {
		return pipeline.ConsecutiveErrors()
	}
	return 0
}

// Stats implements fleetmetrics.IngestSource. The totals span every
// pipeline the worker has run.
func (w *ingestWorker) Stats() ingest.Stats {
	w.retiredMu.Lock()
	defer w.retiredMu.Unlock()
	if pipeline := w.current.Load(); pipeline != nil {
		return addStats(w.retired, pipeline.Stats())
	}
	return w.retired
}

func addStats(a, b ingest.Stats) ingest.Stats {
	return ingest.Stats{
		Received:        a.Received + b.Received,
		Malformed:       a.Malformed + b.Malformed,
		TransportErrors: a.TransportErrors + b.TransportErrors,
		Recreations:     a.Recreations + b.Recreations,
		Cooldowns:       a.Cooldowns + b.Cooldowns,
	}
}
