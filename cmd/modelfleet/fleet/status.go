// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

type statusParams struct {
	Connection ControllerConnection
	cli.JSONOutput
}

func statusCommand(e env) *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show the nodes eligible for scheduling",
		Description: `List the nodes whose telemetry arrived within the staleness window,
with their last reported CPU and memory load and the age of that
report. Ages are colored by how close they are to going stale.

The fleet is ready when at least one node is active.`,
		Usage: "modelfleet status [flags]",
		Examples: []cli.Example{
			{
				Description: "Show active nodes",
				Command:     "modelfleet status",
			},
			{
				Description: "Check readiness from a script",
				Command:     "modelfleet status --json | jq .ready",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			params.Out = e.out
			return runStatus(ctx, e, &params, logger)
		},
	}
}

func runStatus(ctx context.Context, e env, params *statusParams, logger *slog.Logger) error {
	client := params.Connection.client()
	status, err := client.Status(ctx)
	if err != nil {
		return cli.FromAPIError(err)
	}
	if done, err := params.EmitJSON(status); done {
		return err
	}

	// Coloring only; the listing stands without it.
	var window time.Duration
	if config, err := client.Config(ctx); err != nil {
		logger.Debug("reading staleness window failed", "error", err)
	} else {
		window = config.StalenessWindow.Std()
	}

	out := params.Stdout()
	readiness := "not ready"
	if status.Ready {
		readiness = "ready"
	}
	fmt.Fprintf(out, "%d active node(s), %s\n", status.ActiveNodeCount, readiness)
	if len(status.Nodes) == 0 {
		return nil
	}

	nodeIDs := make([]string, 0, len(status.Nodes))
	for nodeID := range status.Nodes {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	colors := newFreshness(out, window)
	now := e.clock.Now()
	fmt.Fprintln(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "NODE\tAGENT\tCPU\tMEMORY\tLAST REPORT\n")
	for _, nodeID := range nodeIDs {
		node := status.Nodes[nodeID]
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			nodeID,
			agentAddress(node),
			formatPercent(node.CPUPercent),
			formatPercent(node.MemoryPercent),
			colors.render(now.Sub(node.LastUpdated)),
		)
	}
	return writer.Flush()
}

func agentAddress(node controlclient.NodeStatus) string {
	return net.JoinHostPort(node.IP, strconv.Itoa(node.Port))
}
