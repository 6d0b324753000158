// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

// ErrorCategory classifies command errors so scripts can decide
// between fixing input, retrying, and escalating without parsing
// message text.
type ErrorCategory string

const (
	// CategoryValidation: the caller provided invalid input. Fix the
	// input and retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a referenced deployment does not exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryUnavailable: the fleet cannot serve the request right
	// now (no fresh telemetry, no reachable node, node gone).
	CategoryUnavailable ErrorCategory = "unavailable"

	// CategoryTransient: a network error or timeout talking to the
	// controller. Back off and retry.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: an unexpected failure. Report it rather than
	// retry.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized error returned by CLI commands. It wraps
// an inner error, preserving the chain for errors.Is and errors.As.
// Use the category constructors rather than building one directly.
type ToolError struct {
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error

	// Hint is an optional next step printed after the message.
	Hint string
}

// Error returns the message, followed by the hint when there is one.
func (e *ToolError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

func (e *ToolError) Unwrap() error { return e.Err }

// WithHint sets the hint and returns the receiver for chaining.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Unavailable creates an error for a fleet that cannot serve the
// request yet.
func Unavailable(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryUnavailable, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// FromAPIError categorizes an error returned by controlclient. API
// errors map by kind; anything else never reached the controller and
// is transient. nil stays nil.
func FromAPIError(err error) error {
	if err == nil {
		return nil
	}
	var toolError *ToolError
	if errors.As(err, &toolError) {
		return err
	}
	var apiError *controlclient.APIError
	if !errors.As(err, &apiError) {
		return (&ToolError{Category: CategoryTransient, Err: err}).
			WithHint("Check that the controller is running and --controller points at it.")
	}

	switch apiError.Kind {
	case controlclient.KindValidation:
		return &ToolError{Category: CategoryValidation, Err: err}
	case controlclient.KindNotFound:
		return (&ToolError{Category: CategoryNotFound, Err: err}).
			WithHint("Run 'modelfleet deployments' to list known deployments.")
	case controlclient.KindNoActiveNodes:
		return (&ToolError{Category: CategoryUnavailable, Err: err}).
			WithHint("No node has reported telemetry within the staleness window. " +
				"Check that modelfleet-reporter runs on the workers, or widen it with " +
				"'modelfleet config --staleness-window'.")
	case controlclient.KindNoReachableNodes:
		return (&ToolError{Category: CategoryUnavailable, Err: err}).
			WithHint("Nodes report telemetry but their agents do not answer health checks.")
	case controlclient.KindNodeUnavailable, controlclient.KindDispatchFailed:
		return &ToolError{Category: CategoryUnavailable, Err: err}
	}
	return &ToolError{Category: CategoryInternal, Err: err}
}
