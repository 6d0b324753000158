// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the modelfleet
// operator CLI.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a parameter struct whose tagged fields
// become flags (see [BindFlags]), and a Run function. Commands are
// assembled into a tree by cmd/modelfleet/commands and dispatched via
// [Command.Execute], which handles flag parsing, subcommand routing,
// and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework
// computes Levenshtein edit distance against the known names and
// suggests the closest match (distance <= 3).
//
// Errors returned by commands may be [ToolError] values carrying a
// category and an operator-facing hint. [FromAPIError] converts the
// controller's typed error kinds into categories so scripts can tell
// "fix the input" from "try again later" by exit code.
package cli
