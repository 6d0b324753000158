// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Modelfleet is the operator CLI for the model fleet controller.
//
// Every command talks to the controller's HTTP API; point it at one
// with --controller or MODELFLEET_CONTROLLER_URL. Run "modelfleet
// --help" for the command list.
//
// Exit status is 0 on success, 2 for invalid input, 3 when a
// deployment is not found, 4 when the fleet or controller is
// unavailable, and 1 otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/fleet"
	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand(os.Stdout, clock.Real()).Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		// Commands that print their own output return an ExitError;
		// don't add an "error:" line for those.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCodeFor(err))
	}
}

func rootCommand(out io.Writer, clk clock.Clock) *cli.Command {
	subcommands := fleet.Commands(out, clk)
	subcommands = append(subcommands, &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(context.Context, []string, *slog.Logger) error {
			fmt.Fprintf(out, "modelfleet %s\n", version.Full())
			return nil
		},
	})

	return &cli.Command{
		Name: "modelfleet",
		Description: `Modelfleet: deploy models across a fleet of worker nodes.

The controller schedules each deployment onto the least loaded node
that has reported telemetry recently, dispatches it to that node's
agent, and optionally publishes it behind a public URL.`,
		Subcommands: subcommands,
		Examples: []cli.Example{
			{
				Description: "See which nodes can take work",
				Command:     "modelfleet status",
			},
			{
				Description: "Deploy a model",
				Command:     "modelfleet deploy llama-3-8b",
			},
			{
				Description: "Talk to a remote controller",
				Command:     "MODELFLEET_CONTROLLER_URL=http://ctl:8090 modelfleet deployments",
			},
		},
	}
}
