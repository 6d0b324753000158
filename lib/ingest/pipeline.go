// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/telemetry"
)

// State is the pipeline's resilience state.
type State int32

const (
	StatePolling State = iota
	StateDegraded
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDegraded:
		return "degraded"
	case StateCooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	DefaultDegradedThreshold = 3
	DefaultCooldownThreshold = 10
	DefaultCooldownDuration  = 30 * time.Second
	DefaultErrorBackoff      = time.Second
)

// Sink receives decoded telemetry. fleetstate.Store implements it.
type Sink interface {
	UpsertTelemetry(nodeID string, record telemetry.Record)
}

// Config configures a Pipeline. Source and Sink are required.
type Config struct {
	Source Source
	Sink   Sink

	// DegradedThreshold and CooldownThreshold are consecutive error
	// counts. Zero selects the defaults.
	DegradedThreshold int
	CooldownThreshold int

	// CooldownDuration is how long the loop sleeps in Cooldown.
	CooldownDuration time.Duration

	// ErrorBackoff is the pause after each failed fetch. Zero
	// disables the pause; the config layer supplies the 1s default.
	ErrorBackoff time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Received        int64
	Malformed       int64
	TransportErrors int64
	Recreations     int64
	Cooldowns       int64
}

// Pipeline is the telemetry polling loop. Run it on one goroutine;
// the accessors are safe to call from any goroutine.
type Pipeline struct {
	source Source
	sink   Sink

	degradedThreshold int
	cooldownThreshold int
	cooldownDuration  time.Duration
	errorBackoff      time.Duration

	clock  clock.Clock
	logger *slog.Logger

	// consecutive is written only by the loop goroutine.
	consecutive atomic.Int64
	state       atomic.Int32

	received        atomic.Int64
	malformed       atomic.Int64
	transportErrors atomic.Int64
	recreations     atomic.Int64
	cooldowns       atomic.Int64
}

// New creates a Pipeline.
func New(config Config) (*Pipeline, error) {
	if config.Source == nil {
		return nil, errors.New("ingest: Source is required")
	}
	if config.Sink == nil {
		return nil, errors.New("ingest: Sink is required")
	}
	if config.ErrorBackoff < 0 {
		return nil, fmt.Errorf("ingest: negative ErrorBackoff %v", config.ErrorBackoff)
	}
	pipeline := &Pipeline{
		source:            config.Source,
		sink:              config.Sink,
		degradedThreshold: config.DegradedThreshold,
		cooldownThreshold: config.CooldownThreshold,
		cooldownDuration:  config.CooldownDuration,
		errorBackoff:      config.ErrorBackoff,
		clock:             config.Clock,
		logger:            config.Logger,
	}
	if pipeline.degradedThreshold <= 0 {
		pipeline.degradedThreshold = DefaultDegradedThreshold
	}
	if pipeline.cooldownThreshold <= 0 {
		pipeline.cooldownThreshold = DefaultCooldownThreshold
	}
	if pipeline.cooldownDuration <= 0 {
		pipeline.cooldownDuration = DefaultCooldownDuration
	}
	if pipeline.clock == nil {
		pipeline.clock = clock.Real()
	}
	if pipeline.logger == nil {
		pipeline.logger = slog.New(slog.DiscardHandler)
	}
	return pipeline, nil
}

// State returns the current resilience state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// ConsecutiveErrors returns the current consecutive error count.
func (p *Pipeline) ConsecutiveErrors() int { return int(p.consecutive.Load()) }

// Stats returns a snapshot of the cumulative counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:        p.received.Load(),
		Malformed:       p.malformed.Load(),
		TransportErrors: p.transportErrors.Load(),
		Recreations:     p.recreations.Load(),
		Cooldowns:       p.cooldowns.Load(),
	}
}

// Run polls until ctx is cancelled and returns ctx.Err(). Transport
// errors never end the loop.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("telemetry ingestion started")
	defer p.logger.Info("telemetry ingestion stopped")

	for ctx.Err() == nil {
		p.poll(ctx)
	}
	return ctx.Err()
}

// poll runs one iteration of the loop.
func (p *Pipeline) poll(ctx context.Context) {
	if p.ConsecutiveErrors() >= p.degradedThreshold {
		p.setState(StateDegraded)
		if err := p.verifyTopic(ctx); err != nil {
			p.fail(ctx, err)
			return
		}
	}

	message, err := p.source.Fetch(ctx)
	switch {
	case err == nil:
		p.handle(message)
	case errors.Is(err, ErrEndOfData):
		p.reset()
	case ctx.Err() != nil:
	case errors.Is(err, ErrTopicNotFound):
		p.logger.Warn("telemetry topic not found, recreating", "error", err)
		if recoverErr := p.recreate(ctx); recoverErr != nil {
			p.logger.Error("recreating telemetry topic failed", "error", recoverErr)
		}
		p.fail(ctx, err)
	default:
		p.fail(ctx, err)
	}
}

// handle decodes and applies one message. The message is acked either
// way so an undecodable payload is not redelivered.
func (p *Pipeline) handle(message Message) {
	defer func() {
		if message.Ack == nil {
			return
		}
		if err := message.Ack(); err != nil {
			p.logger.Warn("acknowledging telemetry message failed", "error", err)
		}
	}()

	record, err := telemetry.Decode(message.Data, message.ContentType, message.ContentEncoding)
	if err != nil {
		p.malformed.Add(1)
		p.logger.Warn("dropping malformed telemetry",
			"error", err,
			"bytes", len(message.Data),
			"content_type", message.ContentType,
			"content_encoding", message.ContentEncoding,
		)
		return
	}

	p.sink.UpsertTelemetry(record.NodeID, record)
	p.received.Add(1)
	p.reset()
	p.logger.Debug("telemetry applied",
		"node", record.NodeID,
		"ip", record.IP,
		"port", record.Port,
	)
}

// verifyTopic recreates the topic and resubscribes when it is missing.
func (p *Pipeline) verifyTopic(ctx context.Context) error {
	exists, err := p.source.TopicExists(ctx)
	if err != nil {
		return fmt.Errorf("checking telemetry topic: %w", err)
	}
	if exists {
		return nil
	}
	p.logger.Warn("telemetry topic missing, recreating",
		"consecutive_errors", p.ConsecutiveErrors())
	return p.recreate(ctx)
}

func (p *Pipeline) recreate(ctx context.Context) error {
	if err := p.source.EnsureTopic(ctx); err != nil {
		return fmt.Errorf("creating telemetry topic: %w", err)
	}
	if err := p.source.Resubscribe(ctx); err != nil {
		return fmt.Errorf("resubscribing: %w", err)
	}
	p.recreations.Add(1)
	p.logger.Info("telemetry topic recreated and resubscribed")
	return nil
}

// fail counts a transport error and applies backoff or cooldown.
func (p *Pipeline) fail(ctx context.Context, err error) {
	p.transportErrors.Add(1)
	count := p.consecutive.Add(1)
	p.logger.Error("telemetry fetch failed",
		"error", err,
		"consecutive_errors", count,
	)

	if count >= int64(p.cooldownThreshold) {
		p.cooldown(ctx, count)
		return
	}
	if count >= int64(p.degradedThreshold) {
		p.setState(StateDegraded)
	}
	if p.errorBackoff > 0 {
		p.sleep(ctx, p.errorBackoff)
	}
}

func (p *Pipeline) cooldown(ctx context.Context, count int64) {
	p.setState(StateCooldown)
	p.cooldowns.Add(1)
	p.logger.Error("too many consecutive telemetry errors, cooling down",
		"consecutive_errors", count,
		"cooldown", p.cooldownDuration,
	)
	if !p.sleep(ctx, p.cooldownDuration) {
		return
	}
	p.reset()
}

// reset clears the error counter and returns to Polling.
func (p *Pipeline) reset() {
	if previous := p.consecutive.Swap(0); previous > 0 {
		p.logger.Info("telemetry ingestion recovered", "after_errors", previous)
	}
	p.setState(StatePolling)
}

func (p *Pipeline) setState(next State) {
	previous := State(p.state.Swap(int32(next)))
	if previous != next {
		p.logger.Debug("ingestion state changed", "from", previous, "to", next)
	}
}

// sleep waits d on the pipeline clock. Returns false if ctx ended first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.clock.After(d):
		return true
	}
}
