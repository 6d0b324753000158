// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package controlclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Error kinds reported in ErrorResponse.Kind.
const (
	KindValidation       = "validation"
	KindNoActiveNodes    = "no_active_nodes"
	KindNoReachableNodes = "no_reachable_nodes"
	KindDispatchFailed   = "dispatch_failed"
	KindNotFound         = "not_found"
	KindNodeUnavailable  = "node_unavailable"
	KindInternal         = "internal"
)

// DefaultVersion is used when a deploy request names no version.
const DefaultVersion = "latest"

// DeployRequest asks the controller to deploy a model.
type DeployRequest struct {
	ModelID string `json:"modelId"`
	Version string `json:"version,omitempty"`
}

// DeployResponse describes a successful deployment.
type DeployResponse struct {
	DeploymentID string `json:"deploymentId"`
	NodeID       string `json:"nodeId"`
	InternalURL  string `json:"internalUrl"`
	PublicURL    string `json:"publicUrl,omitempty"`
}

// StopRequest asks the controller to stop a deployment.
type StopRequest struct {
	DeploymentID string `json:"deploymentId"`
}

// StopResponse confirms a stop.
type StopResponse struct {
	Message string `json:"message"`
}

// NodeStatus is one active node in a StatusResponse.
type NodeStatus struct {
	CPUPercent    *float64  `json:"cpuPercent"`
	MemoryPercent *float64  `json:"memoryPercent"`
	LastUpdated   time.Time `json:"lastUpdated"`
	IP            string    `json:"ip"`
	Port          int       `json:"port"`
}

// StatusResponse lists the nodes inside the staleness window.
type StatusResponse struct {
	ActiveNodeCount int                   `json:"activeNodeCount"`
	Nodes           map[string]NodeStatus `json:"nodes"`
	Ready           bool                  `json:"ready"`
}

// Deployment is one registered deployment.
type Deployment struct {
	DeploymentID  string    `json:"deploymentId"`
	ModelID       string    `json:"modelId"`
	Version       string    `json:"version"`
	NodeID        string    `json:"nodeId"`
	InternalURL   string    `json:"internalUrl"`
	PublicURL     string    `json:"publicUrl,omitempty"`
	State         string    `json:"state"`
	DeployedAt    time.Time `json:"deployedAt"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
}

// DeploymentsResponse lists deployments ordered by deploy time.
type DeploymentsResponse struct {
	Count       int          `json:"count"`
	Deployments []Deployment `json:"deployments"`
}

// ConfigUpdate changes runtime tunables. Nil fields are left alone.
type ConfigUpdate struct {
	SkipConnectivityTest *bool     `json:"skipConnectivityTest,omitempty"`
	HealthCheckTimeout   *Duration `json:"healthCheckTimeout,omitempty"`
	EnablePublicURLs     *bool     `json:"enablePublicUrls,omitempty"`
	StalenessWindow      *Duration `json:"stalenessWindow,omitempty"`
}

// ConfigResponse is the effective runtime configuration.
type ConfigResponse struct {
	SkipConnectivityTest bool     `json:"skipConnectivityTest"`
	HealthCheckTimeout   Duration `json:"healthCheckTimeout"`
	EnablePublicURLs     bool     `json:"enablePublicUrls"`
	StalenessWindow      Duration `json:"stalenessWindow"`
}

// HealthResponse is the liveness answer.
type HealthResponse struct {
	Status string `json:"status"`
}

// RoutingCheckResponse reports whether the routing admin API answers.
type RoutingCheckResponse struct {
	Success          bool   `json:"success"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	AdminURL         string `json:"adminUrl"`
	PublicURLBase    string `json:"publicUrlBase,omitempty"`
	EnablePublicURLs bool   `json:"enablePublicUrls"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Duration is a time.Duration that encodes as a number of seconds and
// decodes from seconds (number or numeric string) or a Go duration
// string such as "90s".
type Duration time.Duration

// MarshalJSON encodes d as seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Seconds())
}

// UnmarshalJSON accepts 60, 1.5, "60", or "1m".
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		parsed, err := ParseDuration(text)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("duration must be seconds or a duration string: %w", err)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// ParseDuration parses a Go duration string or a plain number of
// seconds.
func ParseDuration(text string) (time.Duration, error) {
	text = strings.TrimSpace(text)
	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	return parsed, nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
