// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Modelfleet-reporter runs on each worker node beside the node agent.
// Every interval it samples CPU, memory, swap, disk, load, and host
// information and publishes one telemetry record to the controller's
// JetStream subject.
//
// The record names the node and the address of its agent, so the
// controller can both score the node and dispatch deployments to it.
// The node id defaults to the hostname; the agent IP defaults to the
// local address that routes to the NATS server.
//
// Payloads are JSON unless reporter.content_type is application/cbor,
// and may be compressed with zstd or lz4. Both choices travel in the
// Content-Type and Content-Encoding message headers.
package main
