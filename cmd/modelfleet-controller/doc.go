// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Modelfleet-controller places model deployments on worker nodes. It
// keeps an in-memory model of the fleet, rebuilt continuously from the
// telemetry stream, and answers a small JSON control API.
//
// # Startup
//
// The controller loads its YAML configuration (--config or
// MODELFLEET_CONFIG), restores the deployment registry from the
// journal when one is configured, starts the supervised telemetry
// ingestion worker, and binds the HTTP listener. When a service
// registry URL is configured it announces itself with the outbound IP
// of this host; a registry that rejects the announcement aborts
// startup.
//
// # Telemetry
//
// Nodes publish telemetry to a JetStream subject. One ingestion worker
// pulls records and upserts them into the fleet state store. A node is
// eligible for placement only while its most recent record is inside
// the staleness window, and only when its agent answers a health probe
// (cached for the health TTL) unless probing is disabled.
//
// # Control API
//
// Every route is served at the root and under /controller:
//
//   - POST /deploy: schedule, dispatch to the chosen agent, record,
//     and optionally publish a public route
//   - POST /stop: stop on the owning agent, unpublish, forget
//   - GET /status: nodes inside the staleness window
//   - GET /deployments: registered deployments with uptime
//   - POST /config: change scheduling and routing tunables at runtime
//   - GET /health: liveness
//   - GET /metrics: Prometheus metrics
//   - GET /controller/test-routing: probe the routing admin API
//
// Errors are JSON objects {error, kind}. The kind is stable and
// machine-readable; the message is for humans.
package main
