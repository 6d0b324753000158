// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/telemetry"
	"github.com/bureau-foundation/modelfleet/lib/testutil"
)

var testEpoch = time.Date(2026, 4, 20, 8, 0, 0, 0, time.UTC)

type fixedSampler struct{ sample hostSample }

func (s fixedSampler) Sample(context.Context) hostSample { return s.sample }

// recordingPublisher captures every payload and fails while err is
// set.
type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	payloads chan payload
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{payloads: make(chan payload, 16)}
}

func (p *recordingPublisher) Publish(_ context.Context, message payload) error {
	p.mu.Lock()
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.payloads <- message
	return nil
}

func (p *recordingPublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func fullSample() hostSample {
	busy := 37.5
	return hostSample{
		CPUPercent: &busy,
		CPUCount:   8,
		Memory:     &mem.VirtualMemoryStat{Total: 16 << 30, Available: 6 << 30, Used: 10 << 30, UsedPercent: 62.5},
		Swap:       &mem.SwapMemoryStat{Total: 4 << 30, Used: 1 << 30, UsedPercent: 25},
		Disk:       &disk.UsageStat{Path: "/", Total: 500 << 30, Free: 300 << 30, Used: 200 << 30, UsedPercent: 40},
		Load:       &load.AvgStat{Load1: 1.5, Load5: 1.25, Load15: 1},
		Host:       &host.InfoStat{Hostname: "gpu-box-3", BootTime: 1776650000, Uptime: 3600, Procs: 412, Platform: "ubuntu", KernelVersion: "6.8.0"},
	}
}

func newTestReporter(t *testing.T, sample hostSample, contentType, contentEncoding string) (*reporter, *recordingPublisher, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(testEpoch)
	publisher := newRecordingPublisher()
	return &reporter{
		nodeID:          "gpu-box-3",
		agentIP:         "10.0.0.3",
		agentPort:       8091,
		contentType:     contentType,
		contentEncoding: contentEncoding,
		sampler:         fixedSampler{sample: sample},
		publisher:       publisher,
		clock:           fake,
		logger:          testutil.Logger(t),
	}, publisher, fake
}

// --- record building ---

func TestBuildRecordCarriesEveryBlock(t *testing.T) {
	record := buildRecord("gpu-box-3", "10.0.0.3", 8091, fullSample(), testEpoch)

	if record.NodeID != "gpu-box-3" || record.IP != "10.0.0.3" || record.Port != 8091 {
		t.Errorf("identity = %s %s:%d", record.NodeID, record.IP, record.Port)
	}
	if record.CPUPercent == nil || *record.CPUPercent != 37.5 {
		t.Errorf("CPUPercent = %v, want 37.5", record.CPUPercent)
	}
	if record.MemoryPercent == nil || *record.MemoryPercent != 62.5 {
		t.Errorf("MemoryPercent = %v, want 62.5", record.MemoryPercent)
	}
	if !record.Timestamp.Equal(testEpoch) {
		t.Errorf("Timestamp = %v, want %v", record.Timestamp, testEpoch)
	}
	for _, block := range []string{"cpu", "memory", "swap", "disk", "load", "system"} {
		if _, ok := record.Extra[block]; !ok {
			t.Errorf("Extra missing %q block", block)
		}
	}
	system := record.Extra["system"].(map[string]any)
	if system["hostname"] != "gpu-box-3" || system["processes"] != uint64(412) {
		t.Errorf("system block = %v", system)
	}
}

func TestBuildRecordOmitsUnreadStatistics(t *testing.T) {
	record := buildRecord("node-1", "10.0.0.1", 8091, hostSample{}, testEpoch)

	if record.CPUPercent != nil || record.MemoryPercent != nil {
		t.Errorf("percentages = %v/%v, want nil for an empty sample", record.CPUPercent, record.MemoryPercent)
	}
	if len(record.Extra) != 0 {
		t.Errorf("Extra = %v, want empty", record.Extra)
	}

	// A record without cpu or memory still decodes; the scheduler
	// scores it as fully loaded.
	data, err := telemetry.Encode(record, telemetry.ContentTypeJSON, "")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := telemetry.Decode(data, telemetry.ContentTypeJSON, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.CPUPercent != nil || decoded.MemoryPercent != nil {
		t.Errorf("decoded percentages = %v/%v, want nil", decoded.CPUPercent, decoded.MemoryPercent)
	}
}

func TestCPUBusyPercent(t *testing.T) {
	previous := cpu.TimesStat{User: 100, System: 50, Idle: 800, Iowait: 50}
	current := cpu.TimesStat{User: 160, System: 70, Idle: 900, Iowait: 70}

	tests := []struct {
		name     string
		previous *cpu.TimesStat
		current  cpu.TimesStat
		want     float64
	}{
		{"since boot", nil, previous, 15},
		{"between samples", &previous, current, 40},
		{"no elapsed time", &previous, previous, 0},
		{"counter reset", &current, previous, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := cpuBusyPercent(test.previous, test.current); got != test.want {
				t.Errorf("cpuBusyPercent = %v, want %v", got, test.want)
			}
		})
	}
}

// --- publishing ---

func TestReportPublishesDecodablePayload(t *testing.T) {
	tests := []struct {
		name            string
		contentType     string
		contentEncoding string
	}{
		{"json", telemetry.ContentTypeJSON, ""},
		{"cbor zstd", telemetry.ContentTypeCBOR, "zstd"},
		{"json lz4", telemetry.ContentTypeJSON, "lz4"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, publisher, _ := newTestReporter(t, fullSample(), test.contentType, test.contentEncoding)
			if err := r.report(context.Background()); err != nil {
				t.Fatalf("report: %v", err)
			}

			message := testutil.RequireReceive(t, publisher.payloads, time.Second, "no payload published")
			if message.ContentType != test.contentType || message.ContentEncoding != test.contentEncoding {
				t.Errorf("headers = %q/%q", message.ContentType, message.ContentEncoding)
			}

			record, err := telemetry.Decode(message.Data, message.ContentType, message.ContentEncoding)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if record.NodeID != "gpu-box-3" || record.Port != 8091 {
				t.Errorf("decoded identity = %s:%d", record.NodeID, record.Port)
			}
			if record.CPUPercent == nil || *record.CPUPercent != 37.5 {
				t.Errorf("decoded CPUPercent = %v", record.CPUPercent)
			}
			if record.MemoryPercent == nil || *record.MemoryPercent != 62.5 {
				t.Errorf("decoded MemoryPercent = %v", record.MemoryPercent)
			}
		})
	}
}

func TestReportUnknownEncoding(t *testing.T) {
	r, _, _ := newTestReporter(t, fullSample(), telemetry.ContentTypeJSON, "brotli")
	if err := r.report(context.Background()); err == nil {
		t.Error("report with an unknown encoding succeeded")
	}
}

// --- loop ---

func TestRunReportsEveryInterval(t *testing.T) {
	r, publisher, fake := newTestReporter(t, fullSample(), telemetry.ContentTypeJSON, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx, 5*time.Second) }()

	first := testutil.RequireReceive(t, publisher.payloads, 5*time.Second, "no report at startup")
	fake.WaitForTimers(1)

	fake.Advance(5 * time.Second)
	second := testutil.RequireReceive(t, publisher.payloads, 5*time.Second, "no report after one interval")

	firstRecord, _ := telemetry.Decode(first.Data, first.ContentType, "")
	secondRecord, _ := telemetry.Decode(second.Data, second.ContentType, "")
	if !secondRecord.Timestamp.Equal(firstRecord.Timestamp.Add(5 * time.Second)) {
		t.Errorf("timestamps %v then %v, want 5s apart", firstRecord.Timestamp, secondRecord.Timestamp)
	}

	cancel()
	err := testutil.RequireReceive(t, done, 5*time.Second, "reporter did not stop")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("run() = %v, want context.Canceled", err)
	}
	if r.published != 2 {
		t.Errorf("published = %d, want 2", r.published)
	}
}

func TestRunSurvivesPublishFailures(t *testing.T) {
	r, publisher, fake := newTestReporter(t, fullSample(), telemetry.ContentTypeJSON, "")
	publisher.setErr(errors.New("nats: no responders available for request"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.run(ctx, time.Second) }()

	fake.WaitForTimers(1)
	publisher.setErr(nil)
	fake.Advance(time.Second)

	testutil.RequireReceive(t, publisher.payloads, 5*time.Second, "no report after recovery")

	cancel()
	testutil.RequireReceive(t, done, 5*time.Second, "reporter did not stop")
	if r.failed != 0 || r.published != 1 {
		t.Errorf("failed=%d published=%d, want 0 and 1", r.failed, r.published)
	}
}

// --- identity ---

func TestNATSTarget(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"nats://localhost:4222", "localhost:4222"},
		{"nats://broker.internal", "broker.internal:4222"},
		{"nats://a.internal:4333, nats://b.internal:4333", "a.internal:4333"},
		{"tls://[fd00::1]:7422", "[fd00::1]:7422"},
	}
	for _, test := range tests {
		got, err := natsTarget(test.url)
		if err != nil {
			t.Errorf("natsTarget(%q): %v", test.url, err)
			continue
		}
		if got != test.want {
			t.Errorf("natsTarget(%q) = %q, want %q", test.url, got, test.want)
		}
	}

	if _, err := natsTarget("not a url"); err == nil {
		t.Error("natsTarget accepted a value without a host")
	}
}
