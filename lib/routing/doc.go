// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package routing publishes deployments on a Caddy reverse proxy
// through its admin API.
//
// Each deployment gets one route whose @id is derived from the
// deployment id, so publishing is idempotent: a repeated Publish
// replaces the route in place and Unpublish of a route that is already
// gone succeeds. The route matches /{id} and /{id}/* and proxies to
// the host:port of the deployment's internal URL.
//
// Routing failures never fail a deployment. Callers log them and carry
// on without a public URL.
package routing
