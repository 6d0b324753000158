// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/netutil"
)

// ErrRegistrationRejected means the registry answered with a 4xx. The
// request itself is wrong, so retrying cannot help.
var ErrRegistrationRejected = errors.New("service registration rejected")

// registerPath is appended to the registry base URL.
const registerPath = "/service-registry/register"

// Registration describes this process to the fleet's service registry.
type Registration struct {
	// Name is the service name other components look up.
	Name string

	// IP and Port are where the service accepts requests.
	IP   string
	Port int
}

// registrationBody is the wire form. The registry expects the port as
// a string.
type registrationBody struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	Port string `json:"port"`
}

// AnnounceConfig configures Announce.
type AnnounceConfig struct {
	// RegistryURL is the base URL of the registry, e.g.
	// http://192.168.1.10:9090.
	RegistryURL string

	// MaxAttempts bounds the retries on transport and 5xx errors.
	// Zero means retry until ctx is cancelled.
	MaxAttempts int

	// MaxBackoff caps the exponential backoff, which starts at 1
	// second. Default: 30 seconds.
	MaxBackoff time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Announce registers with the service registry. Transport errors and
// 5xx responses are retried with exponential backoff; a 4xx response
// fails immediately with ErrRegistrationRejected.
func Announce(ctx context.Context, config AnnounceConfig, registration Registration) error {
	if config.RegistryURL == "" {
		return errors.New("service registry URL is empty")
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 30 * time.Second
	}

	endpoint := strings.TrimRight(config.RegistryURL, "/") + registerPath
	body, err := json.Marshal(registrationBody{
		Name: registration.Name,
		IP:   registration.IP,
		Port: strconv.Itoa(registration.Port),
	})
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}

	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := postRegistration(ctx, client, endpoint, body)
		if err == nil {
			logger.Info("registered with service registry",
				"registry", config.RegistryURL,
				"name", registration.Name,
				"ip", registration.IP,
				"port", registration.Port,
			)
			return nil
		}
		if errors.Is(err, ErrRegistrationRejected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if config.MaxAttempts > 0 && attempt >= config.MaxAttempts {
			return fmt.Errorf("service registration failed after %d attempts: %w", attempt, err)
		}

		logger.Warn("service registration failed, retrying",
			"registry", config.RegistryURL,
			"attempt", attempt,
			"error", err,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func postRegistration(ctx context.Context, client *http.Client, endpoint string, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationRejected, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if err := netutil.CheckStatus(response); err != nil {
		if response.StatusCode >= 400 && response.StatusCode < 500 {
			return fmt.Errorf("%w: %w", ErrRegistrationRejected, err)
		}
		return err
	}
	return nil
}
