// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest consumes node telemetry from the message stream and
// applies it to the fleet state store.
//
// A Pipeline runs one polling loop against a Source. Transport errors
// drive a small state machine:
//
//   - Polling: fewer than DegradedThreshold consecutive errors.
//   - Degraded: the loop verifies the topic exists before every fetch
//     and recreates it (then resubscribes) when it does not.
//   - Cooldown: after CooldownThreshold consecutive errors the loop
//     sleeps for CooldownDuration and starts over with a clean counter.
//
// An empty poll (ErrEndOfData) and a delivered record both reset the
// counter. Malformed payloads are logged and dropped without touching
// it: a bad sender is not a transport problem.
//
// JetStreamSource is the production Source on NATS JetStream.
package ingest
