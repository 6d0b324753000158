// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/modelfleet/lib/agentclient"
	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/controlclient"
	"github.com/bureau-foundation/modelfleet/lib/deployment"
	"github.com/bureau-foundation/modelfleet/lib/fleetmetrics"
	"github.com/bureau-foundation/modelfleet/lib/fleetstate"
	"github.com/bureau-foundation/modelfleet/lib/scheduler"
)

// errInvalidRequest marks caller mistakes: missing ids, unparseable
// bodies, config values the scheduler rejects.
var errInvalidRequest = errors.New("invalid request")

// agentDispatcher starts and stops deployments on node agents.
// Implemented by agentclient.Client.
type agentDispatcher interface {
	Deploy(ctx context.Context, ip string, port int, modelID, version string) (agentclient.Deployment, error)
	Stop(ctx context.Context, ip string, port int, deploymentID string) error
}

// routePublisher exposes deployments through the reverse proxy.
// Implemented by routing.Publisher.
type routePublisher interface {
	Publish(ctx context.Context, deploymentID, internalURL string) (string, error)
	Unpublish(ctx context.Context, deploymentID string) error
	Check(ctx context.Context) error
}

// controllerConfig holds the collaborators of a Controller.
type controllerConfig struct {
	Store     *fleetstate.Store
	Scheduler *scheduler.Scheduler
	Registry  *deployment.Registry
	Agents    agentDispatcher

	// Publisher is nil when routing is not configured. Public URLs
	// cannot be enabled at runtime without one.
	Publisher        routePublisher
	EnablePublicURLs bool
	RoutingAdminURL  string
	PublicURLBase    string

	Metrics *fleetmetrics.Metrics
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Controller orchestrates deploy and stop across the scheduler, the
// node agents, the registry, and the routing publisher. The HTTP
// layer in api.go only decodes requests and encodes results.
type Controller struct {
	store     *fleetstate.Store
	scheduler *scheduler.Scheduler
	registry  *deployment.Registry
	agents    agentDispatcher

	publisher       routePublisher
	publicURLs      atomic.Bool
	routingAdminURL string
	publicURLBase   string

	metrics *fleetmetrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger
}

func newController(config controllerConfig) *Controller {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Metrics == nil {
		config.Metrics = fleetmetrics.New()
	}
	controller := &Controller{
		store:           config.Store,
		scheduler:       config.Scheduler,
		registry:        config.Registry,
		agents:          config.Agents,
		publisher:       config.Publisher,
		routingAdminURL: config.RoutingAdminURL,
		publicURLBase:   config.PublicURLBase,
		metrics:         config.Metrics,
		clock:           config.Clock,
		logger:          config.Logger,
	}
	controller.publicURLs.Store(config.EnablePublicURLs && config.Publisher != nil)
	return controller
}

// Deploy picks a node, asks its agent to start modelID:version, and
// records the deployment. Routing is best effort: a publish failure
// is logged and the deployment is returned without a public URL.
func (c *Controller) Deploy(ctx context.Context, modelID, version string) (response controlclient.DeployResponse, err error) {
	start := c.clock.Now()
	defer func() {
		c.metrics.Deploys.WithLabelValues(errorKind(err)).Inc()
		c.metrics.DeployDuration.Observe(c.clock.Now().Sub(start).Seconds())
	}()

	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return response, fmt.Errorf("%w: modelId is required", errInvalidRequest)
	}
	version = strings.TrimSpace(version)
	if version == "" {
		version = controlclient.DefaultVersion
	}

	selection, err := c.scheduler.Select(ctx, modelID, version)
	if err != nil {
		return response, fmt.Errorf("scheduling %s:%s: %w", modelID, version, err)
	}

	// The agent may take minutes to boot the model. A caller that
	// disconnects must not abandon a deployment the agent is already
	// building.
	detached := context.WithoutCancel(ctx)

	started, err := c.agents.Deploy(detached, selection.IP, selection.Port, modelID, version)
	if err != nil {
		c.logger.Error("deployment dispatch failed",
			"model", modelID,
			"version", version,
			"node", selection.NodeID,
			"error", err,
		)
		return response, fmt.Errorf("deploying %s:%s to node %s: %w", modelID, version, selection.NodeID, err)
	}

	deploymentID := started.DeploymentID
	localID := deploymentID == ""
	if localID {
		deploymentID = uuid.NewString()
		c.logger.Warn("agent returned no deployment id, generated one; stopping it will not reach the agent",
			"node", selection.NodeID,
			"deployment", deploymentID,
		)
	}

	record, err := c.registry.Insert(deployment.Record{
		ID:          deploymentID,
		ModelID:     modelID,
		Version:     version,
		NodeID:      selection.NodeID,
		InternalURL: started.AccessURL,
		LocalID:     localID,
	})
	if err != nil {
		return response, fmt.Errorf("recording deployment %s: %w", deploymentID, err)
	}

	response = controlclient.DeployResponse{
		DeploymentID: record.ID,
		NodeID:       record.NodeID,
		InternalURL:  record.InternalURL,
	}

	if c.publicURLs.Load() {
		response.PublicURL = c.publish(detached, record)
	}

	c.logger.Info("deployment running",
		"deployment", record.ID,
		"model", modelID,
		"version", version,
		"node", record.NodeID,
		"internal_url", record.InternalURL,
		"public_url", response.PublicURL,
	)
	return response, nil
}

// publish adds the public route for record and marks it Routed.
// Returns the public URL, or "" when routing failed.
func (c *Controller) publish(ctx context.Context, record deployment.Record) string {
	publicURL, err := c.publisher.Publish(ctx, record.ID, record.InternalURL)
	if err != nil {
		c.metrics.RouteFailures.WithLabelValues("publish").Inc()
		c.logger.Warn("publishing route failed, deployment has no public URL",
			"deployment", record.ID,
			"error", err,
		)
		return ""
	}
	if _, err := c.registry.MarkRouted(record.ID, publicURL); err != nil {
		// A concurrent stop removed the record between insert and
		// publish. Drop the route we just added.
		c.logger.Warn("deployment vanished while publishing route",
			"deployment", record.ID,
			"error", err,
		)
		c.unpublish(ctx, record.ID)
		return ""
	}
	return publicURL
}

// Stop tears down deploymentID on the node that runs it. The record is
// removed only after the agent confirms; on any failure it stays so
// the operator can retry. A LocalID record is removed without an agent
// call.
func (c *Controller) Stop(ctx context.Context, deploymentID string) (message string, err error) {
	defer func() {
		c.metrics.Stops.WithLabelValues(errorKind(err)).Inc()
	}()

	deploymentID = strings.TrimSpace(deploymentID)
	if deploymentID == "" {
		return "", fmt.Errorf("%w: deploymentId is required", errInvalidRequest)
	}

	target, err := c.registry.ResolveStopTarget(deploymentID, c.store.Node)
	if err != nil {
		return "", err
	}

	detached := context.WithoutCancel(ctx)
	if target.Record.LocalID {
		// The agent never saw this id; a stop call would only 404.
		c.logger.Warn("deployment id unknown to its agent, removing the record only",
			"deployment", deploymentID,
			"node", target.Record.NodeID,
		)
	} else if err := c.agents.Stop(detached, target.IP, target.Port, deploymentID); err != nil {
		c.logger.Error("stopping deployment failed",
			"deployment", deploymentID,
			"node", target.Record.NodeID,
			"error", err,
		)
		return "", fmt.Errorf("stopping deployment %s on node %s: %w", deploymentID, target.Record.NodeID, err)
	}

	// A publish can land in Caddy after the client gave up on it, so
	// the route is removed whatever the record's state. A missing
	// route is not an error.
	c.unpublish(detached, deploymentID)

	if _, err := c.registry.Remove(deploymentID); err != nil && !errors.Is(err, deployment.ErrDeploymentNotFound) {
		return "", fmt.Errorf("removing deployment %s: %w", deploymentID, err)
	}

	c.logger.Info("deployment stopped",
		"deployment", deploymentID,
		"node", target.Record.NodeID,
	)
	return fmt.Sprintf("Deployment %s stopped successfully", deploymentID), nil
}

func (c *Controller) unpublish(ctx context.Context, deploymentID string) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Unpublish(ctx, deploymentID); err != nil {
		c.metrics.RouteFailures.WithLabelValues("unpublish").Inc()
		c.logger.Warn("removing route failed",
			"deployment", deploymentID,
			"error", err,
		)
	}
}

// Status reports the nodes inside the staleness window.
func (c *Controller) Status() controlclient.StatusResponse {
	active := c.scheduler.Active()
	nodes := make(map[string]controlclient.NodeStatus, len(active))
	for _, node := range active {
		nodes[node.ID] = controlclient.NodeStatus{
			CPUPercent:    node.CPUPercent,
			MemoryPercent: node.MemoryPercent,
			LastUpdated:   node.LastUpdated,
			IP:            node.IP,
			Port:          node.Port,
		}
	}
	return controlclient.StatusResponse{
		ActiveNodeCount: len(active),
		Nodes:           nodes,
		Ready:           len(active) > 0,
	}
}

// Deployments lists every registered deployment.
func (c *Controller) Deployments() controlclient.DeploymentsResponse {
	records := c.registry.List()
	now := c.clock.Now()
	deployments := make([]controlclient.Deployment, len(records))
	for index, record := range records {
		deployments[index] = controlclient.Deployment{
			DeploymentID:  record.ID,
			ModelID:       record.ModelID,
			Version:       record.Version,
			NodeID:        record.NodeID,
			InternalURL:   record.InternalURL,
			PublicURL:     record.PublicURL,
			State:         string(record.State),
			DeployedAt:    record.DeployedAt,
			UptimeSeconds: record.Uptime(now).Seconds(),
		}
	}
	return controlclient.DeploymentsResponse{
		Count:       len(deployments),
		Deployments: deployments,
	}
}

// Config returns the effective runtime tunables.
func (c *Controller) Config() controlclient.ConfigResponse {
	schedulerConfig := c.scheduler.Config()
	return controlclient.ConfigResponse{
		SkipConnectivityTest: schedulerConfig.SkipConnectivityTest,
		HealthCheckTimeout:   controlclient.Duration(schedulerConfig.HealthCheckTimeout),
		EnablePublicURLs:     c.publicURLs.Load(),
		StalenessWindow:      controlclient.Duration(schedulerConfig.StalenessWindow),
	}
}

// UpdateConfig applies the non-nil fields of update. Either every
// field is applied or none is.
func (c *Controller) UpdateConfig(update controlclient.ConfigUpdate) (controlclient.ConfigResponse, error) {
	if update.EnablePublicURLs != nil && *update.EnablePublicURLs && c.publisher == nil {
		return controlclient.ConfigResponse{}, fmt.Errorf("%w: public URLs need routing.admin_url configured", errInvalidRequest)
	}

	_, err := c.scheduler.Update(func(config *scheduler.Config) {
		if update.SkipConnectivityTest != nil {
			config.SkipConnectivityTest = *update.SkipConnectivityTest
		}
		if update.HealthCheckTimeout != nil {
			config.HealthCheckTimeout = update.HealthCheckTimeout.Std()
		}
		if update.StalenessWindow != nil {
			config.StalenessWindow = update.StalenessWindow.Std()
		}
	})
	if err != nil {
		return controlclient.ConfigResponse{}, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if update.EnablePublicURLs != nil {
		c.publicURLs.Store(*update.EnablePublicURLs)
	}

	effective := c.Config()
	c.logger.Info("configuration updated",
		"skip_connectivity_test", effective.SkipConnectivityTest,
		"health_check_timeout", effective.HealthCheckTimeout.Std(),
		"enable_public_urls", effective.EnablePublicURLs,
		"staleness_window", effective.StalenessWindow.Std(),
	)
	return effective, nil
}

// CheckRouting probes the routing admin API.
func (c *Controller) CheckRouting(ctx context.Context) controlclient.RoutingCheckResponse {
	response := controlclient.RoutingCheckResponse{
		AdminURL:         c.routingAdminURL,
		PublicURLBase:    c.publicURLBase,
		EnablePublicURLs: c.publicURLs.Load(),
	}
	if c.publisher == nil {
		response.Status = "unconfigured"
		response.Message = "routing admin API is not configured"
		return response
	}
	if err := c.publisher.Check(ctx); err != nil {
		response.Status = "error"
		response.Message = fmt.Sprintf("routing admin API check failed: %v", err)
		return response
	}
	response.Success = true
	response.Status = "connected"
	response.Message = "connected to routing admin API"
	return response
}

// NodeCounts implements fleetmetrics.FleetSource.
func (c *Controller) NodeCounts() (known, active int) {
	return c.store.Len(), len(c.scheduler.Active())
}

// DeploymentCount implements fleetmetrics.FleetSource.
func (c *Controller) DeploymentCount() int {
	return c.registry.Len()
}

// purgeHealthCache drops expired probe results every interval until
// ctx ends. Select purges too, but a controller that receives no
// deploys would otherwise keep entries for departed nodes forever.
func (c *Controller) purgeHealthCache(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := c.store.PurgeExpiredHealth(); purged > 0 {
				c.logger.Debug("expired health entries purged", "count", purged)
			}
		}
	}
}

// errorKind classifies err for the API and for metrics labels.
func errorKind(err error) string {
	switch {
	case err == nil:
		return fleetmetrics.ResultSuccess
	case errors.Is(err, errInvalidRequest):
		return controlclient.KindValidation
	case errors.Is(err, scheduler.ErrNoActiveNodes):
		return controlclient.KindNoActiveNodes
	case errors.Is(err, scheduler.ErrNoReachableNodes):
		return controlclient.KindNoReachableNodes
	case errors.Is(err, agentclient.ErrDispatch):
		return controlclient.KindDispatchFailed
	case errors.Is(err, deployment.ErrDeploymentNotFound):
		return controlclient.KindNotFound
	case errors.Is(err, deployment.ErrNodeUnavailable):
		return controlclient.KindNodeUnavailable
	default:
		return controlclient.KindInternal
	}
}

// meteredProber counts probe outcomes on their way to the scheduler.
type meteredProber struct {
	prober  scheduler.Prober
	metrics *fleetmetrics.Metrics
}

func (p meteredProber) Probe(ctx context.Context, ip string, port int) error {
	err := p.prober.Probe(ctx, ip, port)
	p.metrics.ObserveProbe(err == nil)
	return err
}
