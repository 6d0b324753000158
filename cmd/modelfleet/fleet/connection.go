// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

// EnvController names the controller when --controller is not given.
const EnvController = "MODELFLEET_CONTROLLER_URL"

const (
	defaultControllerURL = "http://localhost:8090"

	// A deploy answers only after the agent has started the model, so
	// the default leaves room for a slow download.
	defaultTimeout = 5 * time.Minute
)

// ControllerConnection holds the flags every command uses to reach
// the controller.
type ControllerConnection struct {
	URL     string
	Timeout time.Duration
}

// AddFlags registers --controller (default $MODELFLEET_CONTROLLER_URL,
// then http://localhost:8090) and --timeout.
func (c *ControllerConnection) AddFlags(flagSet *pflag.FlagSet) {
	urlDefault := defaultControllerURL
	if env := os.Getenv(EnvController); env != "" {
		urlDefault = env
	}
	flagSet.StringVar(&c.URL, "controller", urlDefault, "controller base URL (env "+EnvController+")")
	flagSet.DurationVar(&c.Timeout, "timeout", defaultTimeout, "overall request timeout")
}

func (c *ControllerConnection) client() *controlclient.Client {
	return controlclient.New(c.URL, &http.Client{Timeout: c.Timeout})
}
