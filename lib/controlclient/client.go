// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bureau-foundation/modelfleet/lib/netutil"
	"github.com/bureau-foundation/modelfleet/lib/version"
)

// APIError is a non-2xx answer from the controller.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("controller returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d, %s)", e.Message, e.StatusCode, e.Kind)
}

// ErrorKind returns the kind of an *APIError in err's chain, or "".
func ErrorKind(err error) string {
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.Kind
	}
	return ""
}

// Client calls the controller API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the controller at baseURL. A nil
// httpClient uses one with no timeout: deploys wait on the agent.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Deploy schedules and deploys a model. An empty version means
// DefaultVersion.
func (c *Client) Deploy(ctx context.Context, modelID, version string) (DeployResponse, error) {
	var response DeployResponse
	err := c.do(ctx, http.MethodPost, "/deploy", DeployRequest{ModelID: modelID, Version: version}, &response)
	return response, err
}

// Stop stops a deployment.
func (c *Client) Stop(ctx context.Context, deploymentID string) (StopResponse, error) {
	var response StopResponse
	err := c.do(ctx, http.MethodPost, "/stop", StopRequest{DeploymentID: deploymentID}, &response)
	return response, err
}

// Status lists active nodes.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var response StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &response)
	return response, err
}

// Deployments lists registered deployments.
func (c *Client) Deployments(ctx context.Context) (DeploymentsResponse, error) {
	var response DeploymentsResponse
	err := c.do(ctx, http.MethodGet, "/deployments", nil, &response)
	return response, err
}

// Config reads the effective runtime configuration.
func (c *Client) Config(ctx context.Context) (ConfigResponse, error) {
	var response ConfigResponse
	err := c.do(ctx, http.MethodGet, "/config", nil, &response)
	return response, err
}

// UpdateConfig applies update and returns the effective config. An
// empty update reads the config without changing it.
func (c *Client) UpdateConfig(ctx context.Context, update ConfigUpdate) (ConfigResponse, error) {
	var response ConfigResponse
	err := c.do(ctx, http.MethodPost, "/config", update, &response)
	return response, err
}

// Health checks controller liveness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var response HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &response)
	return response, err
}

// CheckRouting asks the controller to probe the routing admin API.
func (c *Client) CheckRouting(ctx context.Context) (RoutingCheckResponse, error) {
	var response RoutingCheckResponse
	err := c.do(ctx, http.MethodGet, "/controller/test-routing", nil, &response)
	return response, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", version.UserAgent("modelfleet"))

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		data, _ := netutil.ReadResponse(response.Body)
		apiError := &APIError{StatusCode: response.StatusCode}
		var decoded ErrorResponse
		if json.Unmarshal(data, &decoded) == nil && decoded.Error != "" {
			apiError.Kind = decoded.Kind
			apiError.Message = decoded.Error
		} else {
			apiError.Message = strings.TrimSpace(string(data))
		}
		return apiError
	}
	if err := netutil.DecodeResponse(response.Body, result); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
