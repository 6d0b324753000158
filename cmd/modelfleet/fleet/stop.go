// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
)

type stopParams struct {
	Connection ControllerConnection
	cli.JSONOutput
}

func stopCommand(e env) *cli.Command {
	var params stopParams

	return &cli.Command{
		Name:    "stop",
		Summary: "Stop a deployment",
		Description: `Stop a running deployment on the node that hosts it, remove its public
route if it has one, and forget it.

The node must still be reporting telemetry; a deployment on a node
that has gone silent cannot be stopped until the node returns.`,
		Usage: "modelfleet stop <deployment-id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Stop a deployment",
				Command:     "modelfleet stop 5b0e7c9e-3f1d-4d55-9a4c-2c1f0a7e8b11",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("exactly one deployment id is required").
					WithHint("Run 'modelfleet deployments' to list deployment ids.")
			}
			params.Out = e.out

			logger.Debug("stopping", "deployment_id", args[0])
			response, err := params.Connection.client().Stop(ctx, args[0])
			if err != nil {
				return cli.FromAPIError(err)
			}
			if done, err := params.EmitJSON(response); done {
				return err
			}
			fmt.Fprintln(params.Stdout(), response.Message)
			return nil
		},
	}
}
