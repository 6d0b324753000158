// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/ingest"
	"github.com/bureau-foundation/modelfleet/lib/telemetry"
)

// payload is one encoded telemetry record and the headers that
// describe it.
type payload struct {
	Data            []byte
	ContentType     string
	ContentEncoding string
}

// publisher delivers encoded telemetry to the controller.
type publisher interface {
	Publish(ctx context.Context, message payload) error
}

// jetStreamPublisher publishes to a JetStream subject and waits for
// the stream's acknowledgement, so a missing stream or an unreachable
// server surfaces as an error on every tick instead of silent loss.
type jetStreamPublisher struct {
	js      nats.JetStreamContext
	subject string
}

func (p *jetStreamPublisher) Publish(ctx context.Context, message payload) error {
	msg := nats.NewMsg(p.subject)
	msg.Data = message.Data
	msg.Header.Set(ingest.HeaderContentType, message.ContentType)
	if message.ContentEncoding != "" && message.ContentEncoding != "identity" {
		msg.Header.Set(ingest.HeaderContentEncoding, message.ContentEncoding)
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	return nil
}

// reporter samples the host on a ticker and publishes one record per
// tick.
type reporter struct {
	nodeID          string
	agentIP         string
	agentPort       int
	contentType     string
	contentEncoding string

	sampler   sampler
	publisher publisher
	clock     clock.Clock
	logger    *slog.Logger

	published int
	failed    int
}

// run reports immediately, then every interval until ctx is done.
// Failed reports are logged and retried on the next tick.
func (r *reporter) run(ctx context.Context, interval time.Duration) error {
	r.reportAndLog(ctx)

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reporter stopping",
				"published", r.published,
				"consecutive_failures", r.failed,
			)
			return ctx.Err()
		case <-ticker.C:
			r.reportAndLog(ctx)
		}
	}
}

func (r *reporter) reportAndLog(ctx context.Context) {
	if err := r.report(ctx); err != nil {
		r.failed++
		r.logger.Warn("telemetry report failed", "error", err, "consecutive", r.failed)
		return
	}
	if r.failed > 0 {
		r.logger.Info("telemetry reporting recovered", "after_failures", r.failed)
	}
	r.failed = 0
	r.published++
}

// report takes one sample and publishes it.
func (r *reporter) report(ctx context.Context) error {
	sample := r.sampler.Sample(ctx)
	record := buildRecord(r.nodeID, r.agentIP, r.agentPort, sample, r.clock.Now())

	data, err := telemetry.Encode(record, r.contentType, r.contentEncoding)
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, payload{
		Data:            data,
		ContentType:     r.contentType,
		ContentEncoding: r.contentEncoding,
	}); err != nil {
		return err
	}

	r.logger.Debug("telemetry published",
		"node_id", r.nodeID,
		"bytes", len(data),
		"cpu_percent", deref(record.CPUPercent),
		"memory_percent", deref(record.MemoryPercent),
	)
	return nil
}

func deref(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}
