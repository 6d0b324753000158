// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlclient defines the controller's JSON API and a client
// for it.
//
// The request and response types here are the wire contract: the
// controller encodes them and the modelfleet CLI decodes them. Error
// responses carry a machine-readable kind (see the Kind constants)
// which the client surfaces as *APIError.
package controlclient
