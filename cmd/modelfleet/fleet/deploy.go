// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/modelfleet/cmd/modelfleet/cli"
	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

type deployParams struct {
	Connection ControllerConnection
	cli.JSONOutput
	Version string `flag:"version,v" desc:"model version to deploy" default:"latest"`
}

func deployCommand(e env) *cli.Command {
	var params deployParams

	return &cli.Command{
		Name:    "deploy",
		Summary: "Deploy a model to the least loaded node",
		Description: `Ask the controller to deploy a model. The controller picks the active
node with the lowest combined CPU and memory load, confirms its agent
answers, and dispatches the deployment there.

When public URLs are enabled the deployment is also published through
the routing backend. A routing failure does not fail the deploy; the
deployment is reported without a public URL.`,
		Usage: "modelfleet deploy <model-id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Deploy the latest version of a model",
				Command:     "modelfleet deploy llama-3-8b",
			},
			{
				Description: "Deploy a pinned version and print the result as JSON",
				Command:     "modelfleet deploy llama-3-8b --version 2024-06 --json",
			},
		},
		Params: func() any { return &params },
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("model id is required").
					WithHint("Usage: modelfleet deploy <model-id> [--version <version>]")
			}
			if len(args) > 1 {
				return cli.Validation("unexpected argument: %s", args[1])
			}
			params.Out = e.out
			return runDeploy(ctx, args[0], &params, logger)
		},
	}
}

func runDeploy(ctx context.Context, modelID string, params *deployParams, logger *slog.Logger) error {
	logger.Debug("deploying", "model_id", modelID, "version", params.Version, "controller", params.Connection.URL)

	response, err := params.Connection.client().Deploy(ctx, modelID, params.Version)
	if err != nil {
		return cli.FromAPIError(err)
	}

	if done, err := params.EmitJSON(response); done {
		return err
	}

	version := params.Version
	if version == "" {
		version = controlclient.DefaultVersion
	}
	out := params.Stdout()
	fmt.Fprintf(out, "Deployed %s:%s as %s on %s\n", modelID, version, response.DeploymentID, response.NodeID)
	fmt.Fprintf(out, "  Internal URL: %s\n", response.InternalURL)
	if response.PublicURL != "" {
		fmt.Fprintf(out, "  Public URL:   %s\n", response.PublicURL)
	}
	return nil
}
