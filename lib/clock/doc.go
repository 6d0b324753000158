// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used across
// modelfleet.
//
// Production wiring passes Real(). Tests pass Fake(start) and move time
// explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
//	pipeline := ingest.New(ingest.Config{Clock: fake, ...})
//	go pipeline.Run(ctx)
//	fake.WaitForTimers(1)       // cooldown timer registered
//	fake.Advance(30 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing past it.
package clock
