// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentclient speaks the per-node agent protocol: dispatch a
// deployment, stop one, and probe the agent's health endpoint.
//
// Every call is bounded by its own timeout. Callers that want a call to
// outlive their request pass context.WithoutCancel; the timeout still
// applies.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/netutil"
)

// ErrDispatch wraps every failure to reach an agent or get a 2xx from
// it: network errors, timeouts, non-2xx statuses, unparseable bodies.
var ErrDispatch = errors.New("agent dispatch failed")

// Defaults for Config.
const (
	DefaultDeployPath    = "/deploy"
	DefaultStopPath      = "/stop"
	DefaultHealthPath    = "/health"
	DefaultDeployTimeout = 11 * time.Minute
	DefaultStopTimeout   = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	// Scheme is "http" unless agents terminate TLS.
	Scheme string

	DeployPath string
	StopPath   string
	HealthPath string

	// DeployTimeout is long because the agent provisions a VM or
	// container before answering.
	DeployTimeout time.Duration
	StopTimeout   time.Duration

	// HTTPClient defaults to a client with no overall timeout; the
	// per-call timeouts above bound each request.
	HTTPClient *http.Client
}

// Client calls node agents.
type Client struct {
	scheme        string
	deployPath    string
	stopPath      string
	healthPath    string
	deployTimeout time.Duration
	stopTimeout   time.Duration
	http          *http.Client
}

// New creates a Client, filling unset fields with defaults.
func New(config Config) *Client {
	client := &Client{
		scheme:        orDefault(config.Scheme, "http"),
		deployPath:    orDefault(config.DeployPath, DefaultDeployPath),
		stopPath:      strings.TrimSuffix(orDefault(config.StopPath, DefaultStopPath), "/"),
		healthPath:    orDefault(config.HealthPath, DefaultHealthPath),
		deployTimeout: config.DeployTimeout,
		stopTimeout:   config.StopTimeout,
		http:          config.HTTPClient,
	}
	if client.deployTimeout <= 0 {
		client.deployTimeout = DefaultDeployTimeout
	}
	if client.stopTimeout <= 0 {
		client.stopTimeout = DefaultStopTimeout
	}
	if client.http == nil {
		client.http = &http.Client{}
	}
	return client
}

// Deployment is the agent's report of a started deployment.
type Deployment struct {
	DeploymentID string
	AccessURL    string
}

// deployRequest is the dispatch body.
type deployRequest struct {
	ModelID string `json:"modelId"`
	Version string `json:"version"`
}

// deployResponse accepts both camelCase and the snake_case older
// agents send.
type deployResponse struct {
	DeploymentID      string `json:"deploymentId"`
	AccessURL         string `json:"accessUrl"`
	LegacyDeployment  string `json:"deployment_id"`
	LegacyAccessURL   string `json:"access_url"`
	LegacyModelAccess string `json:"model_access_url"`
}

// Deploy asks the agent at ip:port to start modelID:version. A
// response without an access URL is a dispatch failure; a response
// without a deployment id returns an empty DeploymentID for the
// caller to fill in.
func (c *Client) Deploy(ctx context.Context, ip string, port int, modelID, version string) (Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.deployTimeout)
	defer cancel()

	body, err := json.Marshal(deployRequest{ModelID: modelID, Version: version})
	if err != nil {
		return Deployment{}, fmt.Errorf("encoding deploy request: %w", err)
	}

	endpoint := c.endpoint(ip, port, c.deployPath)
	var response deployResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &response); err != nil {
		return Deployment{}, err
	}

	deployment := Deployment{
		DeploymentID: firstNonEmpty(response.DeploymentID, response.LegacyDeployment),
		AccessURL:    firstNonEmpty(response.AccessURL, response.LegacyAccessURL, response.LegacyModelAccess),
	}
	if deployment.AccessURL == "" {
		return Deployment{}, fmt.Errorf("%w: POST %s: response has no access URL", ErrDispatch, endpoint)
	}
	if _, err := url.Parse(deployment.AccessURL); err != nil {
		return Deployment{}, fmt.Errorf("%w: POST %s: invalid access URL %q: %v", ErrDispatch, endpoint, deployment.AccessURL, err)
	}
	return deployment, nil
}

// Stop asks the agent at ip:port to tear down deploymentID.
func (c *Client) Stop(ctx context.Context, ip string, port int, deploymentID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.stopTimeout)
	defer cancel()

	endpoint := c.endpoint(ip, port, c.stopPath+"/"+url.PathEscape(deploymentID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

// Probe checks the agent's health endpoint. Any 2xx is healthy. The
// caller's context bounds the probe.
func (c *Client) Probe(ctx context.Context, ip string, port int) error {
	return c.do(ctx, http.MethodGet, c.endpoint(ip, port, c.healthPath), nil, nil)
}

func (c *Client) endpoint(ip string, port int, path string) string {
	return c.scheme + "://" + net.JoinHostPort(ip, strconv.Itoa(port)) + path
}

// do performs one request. Every failure wraps ErrDispatch; non-2xx
// statuses also wrap *netutil.StatusError.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, result any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: building %s %s: %v", ErrDispatch, method, endpoint, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDispatch, method, endpoint, err)
	}
	defer response.Body.Close()

	if err := netutil.CheckStatus(response); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	if result == nil {
		return nil
	}
	if err := netutil.DecodeResponse(response.Body, result); err != nil {
		return fmt.Errorf("%w: %s %s: decoding response: %v", ErrDispatch, method, endpoint, err)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
