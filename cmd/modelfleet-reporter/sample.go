// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"

	"github.com/bureau-foundation/modelfleet/lib/telemetry"
)

// hostSample is one reading of the host. A nil field means that
// statistic could not be read this round.
type hostSample struct {
	CPUPercent *float64
	CPUCount   int
	Memory     *mem.VirtualMemoryStat
	Swap       *mem.SwapMemoryStat
	Disk       *disk.UsageStat
	Load       *load.AvgStat
	Host       *host.InfoStat
}

// sampler reads host statistics.
type sampler interface {
	Sample(ctx context.Context) hostSample
}

// systemSampler reads the local host through gopsutil. CPU usage is
// measured between consecutive samples; the first sample measures
// since boot.
type systemSampler struct {
	diskPath string
	logger   *slog.Logger

	mu       sync.Mutex
	previous *cpu.TimesStat
}

func newSystemSampler(diskPath string, logger *slog.Logger) *systemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &systemSampler{diskPath: diskPath, logger: logger}
}

func (s *systemSampler) Sample(ctx context.Context) hostSample {
	var sample hostSample

	if times, err := cpu.TimesWithContext(ctx, false); err != nil || len(times) == 0 {
		s.logger.Debug("reading cpu times failed", "error", err)
	} else {
		s.mu.Lock()
		busy := cpuBusyPercent(s.previous, times[0])
		current := times[0]
		s.previous = &current
		s.mu.Unlock()
		sample.CPUPercent = &busy
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		sample.CPUCount = count
	}
	if memory, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Debug("reading memory failed", "error", err)
	} else {
		sample.Memory = memory
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err != nil {
		s.logger.Debug("reading swap failed", "error", err)
	} else {
		sample.Swap = swap
	}
	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err != nil {
		s.logger.Debug("reading disk usage failed", "path", s.diskPath, "error", err)
	} else {
		sample.Disk = usage
	}
	if average, err := load.AvgWithContext(ctx); err != nil {
		s.logger.Debug("reading load average failed", "error", err)
	} else {
		sample.Load = average
	}
	if info, err := host.InfoWithContext(ctx); err != nil {
		s.logger.Debug("reading host info failed", "error", err)
	} else {
		sample.Host = info
	}
	return sample
}

// cpuBusyPercent is the share of non-idle CPU time between previous
// and current, or since boot when previous is nil.
func cpuBusyPercent(previous *cpu.TimesStat, current cpu.TimesStat) float64 {
	idle, total := cpuIdleTotal(current)
	if previous != nil {
		previousIdle, previousTotal := cpuIdleTotal(*previous)
		idle -= previousIdle
		total -= previousTotal
	}
	if total <= 0 {
		return 0
	}
	busy := (total - idle) / total * 100
	if busy < 0 {
		return 0
	}
	return busy
}

func cpuIdleTotal(times cpu.TimesStat) (idle, total float64) {
	idle = times.Idle + times.Iowait
	nonIdle := times.User + times.Nice + times.System + times.Irq + times.Softirq + times.Steal
	return idle, idle + nonIdle
}

// buildRecord turns a sample into the telemetry record for nodeID,
// whose agent listens on ip:port. Every block the sample lacks is
// omitted; the controller treats missing cpu or memory as full load.
func buildRecord(nodeID, ip string, port int, sample hostSample, now time.Time) telemetry.Record {
	record := telemetry.Record{
		NodeID:     nodeID,
		IP:         ip,
		Port:       port,
		CPUPercent: sample.CPUPercent,
		Timestamp:  now,
		Extra:      make(map[string]any),
	}

	if sample.CPUCount > 0 {
		record.Extra["cpu"] = map[string]any{"count": sample.CPUCount}
	}
	if sample.Memory != nil {
		used := sample.Memory.UsedPercent
		record.MemoryPercent = &used
		record.Extra["memory"] = map[string]any{
			"total":     sample.Memory.Total,
			"available": sample.Memory.Available,
			"used":      sample.Memory.Used,
		}
	}
	if sample.Swap != nil {
		record.Extra["swap"] = map[string]any{
			"percent": sample.Swap.UsedPercent,
			"total":   sample.Swap.Total,
			"used":    sample.Swap.Used,
		}
	}
	if sample.Disk != nil {
		record.Extra["disk"] = map[string]any{
			"path":    sample.Disk.Path,
			"percent": sample.Disk.UsedPercent,
			"total":   sample.Disk.Total,
			"free":    sample.Disk.Free,
			"used":    sample.Disk.Used,
		}
	}
	if sample.Load != nil {
		record.Extra["load"] = map[string]any{
			"load1":  sample.Load.Load1,
			"load5":  sample.Load.Load5,
			"load15": sample.Load.Load15,
		}
	}
	if sample.Host != nil {
		record.Extra["system"] = map[string]any{
			"hostname":       sample.Host.Hostname,
			"boot_time":      sample.Host.BootTime,
			"uptime":         sample.Host.Uptime,
			"processes":      sample.Host.Procs,
			"platform":       sample.Host.Platform,
			"kernel_version": sample.Host.KernelVersion,
		}
	}
	return record
}
