// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

type deploymentsParams struct {
	Connection ControllerConnection
	cli.JSONOutput
	Model string `flag:"model" desc:"only show deployments of this model"`
	Node  string `flag:"node" desc:"only show deployments on this node"`
}

func deploymentsCommand(e env) *cli.Command {
	var params deploymentsParams

	return &cli.Command{
		Name:    "deployments",
		Summary: "List deployments, oldest first",
		Usage:   "modelfleet deployments [flags]",
		Examples: []cli.Example{
			{
				Description: "List every deployment",
				Command:     "modelfleet deployments",
			},
			{
				Description: "List deployments on one node",
				Command:     "modelfleet deployments --node gpu-box-3",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			params.Out = e.out

			response, err := params.Connection.client().Deployments(ctx)
			if err != nil {
				return cli.FromAPIError(err)
			}

			if response.Deployments == nil {
				response.Deployments = []controlclient.Deployment{}
			}
			if params.Model != "" || params.Node != "" {
				filtered := response.Deployments[:0]
				for _, deployment := range response.Deployments {
					if params.Model != "" && deployment.ModelID != params.Model {
						continue
					}
					if params.Node != "" && deployment.NodeID != params.Node {
						continue
					}
					filtered = append(filtered, deployment)
				}
				response.Deployments = filtered
				response.Count = len(filtered)
			}

			if done, err := params.EmitJSON(response); done {
				return err
			}

			out := params.Stdout()
			if response.Count == 0 {
				fmt.Fprintln(out, "No deployments.")
				return nil
			}
			writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "DEPLOYMENT\tMODEL\tNODE\tSTATE\tUPTIME\tURL\n")
			for _, deployment := range response.Deployments {
				url := deployment.PublicURL
				if url == "" {
					url = deployment.InternalURL
				}
				uptime := time.Duration(deployment.UptimeSeconds * float64(time.Second))
				fmt.Fprintf(writer, "%s\t%s:%s\t%s\t%s\t%s\t%s\n",
					deployment.DeploymentID,
					deployment.ModelID,
					deployment.Version,
					deployment.NodeID,
					deployment.State,
					formatDuration(uptime),
					url,
				)
			}
			return writer.Flush()
		},
	}
}
