// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleet implements the operator commands that drive the
// modelfleet controller over its HTTP API: deploying and stopping
// models, listing nodes and deployments, tuning runtime settings, and
// checking the controller and its routing backend.
package fleet

import (
	"io"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
	"github.com/bureau-foundation/modelfleet/lib/clock"
)

// env is what every command writes to and reads time from.
type env struct {
	out   io.Writer
	clock clock.Clock
}

// Commands returns the controller commands, writing primary output to
// out. Ages and uptimes are measured against clk.
func Commands(out io.Writer, clk clock.Clock) []*cli.Command {
	e := env{out: out, clock: clk}
	return []*cli.Command{
		deployCommand(e),
		stopCommand(e),
		statusCommand(e),
		deploymentsCommand(e),
		configCommand(e),
		healthCommand(e),
		testRoutingCommand(e),
	}
}
