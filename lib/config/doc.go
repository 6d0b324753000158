// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for modelfleet
// binaries.
//
// Configuration comes from one file named by the --config flag or the
// MODELFLEET_CONFIG environment variable, decoded over [Default]. There
// is no file discovery. Durations are written as Go duration strings
// ("30s", "11m").
//
// The file may carry development, staging, and production sections
// that override base values when [Config].Environment matches.
// Production defaults are stricter: connectivity probing is forced on.
//
// After the file, a small set of environment variables override the
// values operators change per host:
//
//   - MODELFLEET_NATS_URL -> ingest.nats_url
//   - MODELFLEET_LISTEN -> controller.listen
//   - MODELFLEET_CADDY_URL -> routing.admin_url
//   - MODELFLEET_PUBLIC_URL_BASE -> routing.public_url_base
//
// Path fields expand ${HOME} and ${VAR:-default} patterns.
//
// This package depends on no other modelfleet packages.
package config
