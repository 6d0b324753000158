// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
)

type healthParams struct {
	Connection ControllerConnection
	cli.JSONOutput
}

func healthCommand(e env) *cli.Command {
	var params healthParams

	return &cli.Command{
		Name:    "health",
		Summary: "Check that the controller answers",
		Usage:   "modelfleet health [flags]",
		Examples: []cli.Example{
			{
				Description: "Wait for a freshly started controller",
				Command:     "until modelfleet health; do sleep 1; done",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			params.Out = e.out

			response, err := params.Connection.client().Health(ctx)
			if err != nil {
				return cli.FromAPIError(err)
			}
			if done, err := params.EmitJSON(response); done {
				return err
			}
			fmt.Fprintf(params.Stdout(), "%s: %s\n", params.Connection.URL, response.Status)
			return nil
		},
	}
}

type testRoutingParams struct {
	Connection ControllerConnection
	cli.JSONOutput
}

func testRoutingCommand(e env) *cli.Command {
	var params testRoutingParams

	return &cli.Command{
		Name:    "test-routing",
		Summary: "Check that the controller can reach the routing backend",
		Description: `Ask the controller to probe its routing admin API and report the
result. Exits 1 when routing is unconfigured or unreachable, so the
command can gate enabling public URLs.`,
		Usage: "modelfleet test-routing [flags]",
		Examples: []cli.Example{
			{
				Description: "Enable public URLs only if routing works",
				Command:     "modelfleet test-routing && modelfleet config --enable-public-urls",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}
			params.Out = e.out

			response, err := params.Connection.client().CheckRouting(ctx)
			if err != nil {
				return cli.FromAPIError(err)
			}
			if done, err := params.EmitJSON(response); done {
				if err != nil {
					return err
				}
				if !response.Success {
					return &cli.ExitError{Code: cli.ExitFailure}
				}
				return nil
			}

			out := params.Stdout()
			fmt.Fprintf(out, "Routing %s: %s\n", response.Status, response.Message)
			if response.AdminURL != "" {
				fmt.Fprintf(out, "  Admin API:       %s\n", response.AdminURL)
			}
			if response.PublicURLBase != "" {
				fmt.Fprintf(out, "  Public URL base: %s\n", response.PublicURLBase)
			}
			fmt.Fprintf(out, "  Public URLs:     %s\n", enabledText(response.EnablePublicURLs))
			if !response.Success {
				return &cli.ExitError{Code: cli.ExitFailure}
			}
			return nil
		},
	}
}

func enabledText(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
