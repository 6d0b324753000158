// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

type configParams struct {
	Connection ControllerConnection
	cli.JSONOutput

	SkipConnectivityTest cli.OptionalBool     `flag:"skip-connectivity-test" desc:"dispatch without probing the agent first"`
	HealthCheckTimeout   cli.OptionalDuration `flag:"health-check-timeout" desc:"per-node agent probe timeout (e.g. 3s)"`
	EnablePublicURLs     cli.OptionalBool     `flag:"enable-public-urls" desc:"publish deployments through the routing backend"`
	StalenessWindow      cli.OptionalDuration `flag:"staleness-window" desc:"how recent telemetry must be for a node to be scheduled (e.g. 60s)"`
}

func (p *configParams) update() (controlclient.ConfigUpdate, bool) {
	update := controlclient.ConfigUpdate{
		SkipConnectivityTest: p.SkipConnectivityTest.Ptr(),
		HealthCheckTimeout:   p.HealthCheckTimeout.Ptr(),
		EnablePublicURLs:     p.EnablePublicURLs.Ptr(),
		StalenessWindow:      p.StalenessWindow.Ptr(),
	}
	changed := update.SkipConnectivityTest != nil || update.HealthCheckTimeout != nil ||
		update.EnablePublicURLs != nil || update.StalenessWindow != nil
	return update, changed
}

func configCommand(e env) *cli.Command {
	var params configParams

	return &cli.Command{
		Name:    "config",
		Summary: "Show or change the controller's runtime settings",
		Description: `Without flags, print the controller's effective runtime settings. With
flags, change only the named settings and print the result.

An update is applied all at once or not at all: if any value is
rejected the controller keeps its previous settings. Changes last
until the controller restarts.`,
		Usage: "modelfleet config [flags]",
		Examples: []cli.Example{
			{
				Description: "Show the current settings",
				Command:     "modelfleet config",
			},
			{
				Description: "Tolerate slower reporters",
				Command:     "modelfleet config --staleness-window 2m",
			},
			{
				Description: "Turn on public URLs",
				Command:     "modelfleet config --enable-public-urls",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			params.Out = e.out

			client := params.Connection.client()
			var (
				response controlclient.ConfigResponse
				err      error
			)
			if update, changed := params.update(); changed {
				logger.Info("updating controller configuration", "controller", params.Connection.URL)
				response, err = client.UpdateConfig(ctx, update)
			} else {
				response, err = client.Config(ctx)
			}
			if err != nil {
				return cli.FromAPIError(err)
			}

			if done, err := params.EmitJSON(response); done {
				return err
			}
			writer := tabwriter.NewWriter(params.Stdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "skip-connectivity-test\t%t\n", response.SkipConnectivityTest)
			fmt.Fprintf(writer, "health-check-timeout\t%s\n", response.HealthCheckTimeout.Std())
			fmt.Fprintf(writer, "enable-public-urls\t%t\n", response.EnablePublicURLs)
			fmt.Fprintf(writer, "staleness-window\t%s\n", response.StalenessWindow.Std())
			return writer.Flush()
		},
	}
}
