// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// formatDuration renders a duration as days, hours, minutes, and
// seconds, dropping leading zero units.
func formatDuration(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	days := int(duration.Hours()) / 24
	hours := int(duration.Hours()) % 24
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// formatPercent renders a load percentage, or "-" when the node did
// not report one.
func formatPercent(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *value)
}

// freshness colors a telemetry age against the staleness window:
// green in the first half, yellow in the second, red once stale.
// Color is dropped when w is not a terminal.
type freshness struct {
	window time.Duration
	fresh  lipgloss.Style
	aging  lipgloss.Style
	stale  lipgloss.Style
}

func newFreshness(w io.Writer, window time.Duration) freshness {
	renderer := lipgloss.NewRenderer(w)
	return freshness{
		window: window,
		fresh:  renderer.NewStyle().Foreground(lipgloss.Color("2")),
		aging:  renderer.NewStyle().Foreground(lipgloss.Color("3")),
		stale:  renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func (f freshness) render(age time.Duration) string {
	text := formatDuration(age.Truncate(time.Second))
	switch {
	case f.window <= 0:
		return text
	case age >= f.window:
		return f.stale.Render(text)
	case age >= f.window/2:
		return f.aging.Render(text)
	}
	return f.fresh.Render(text)
}
