// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ExitError signals a non-zero exit code without printing an extra
// error message. The command is expected to have written its own
// output already. "modelfleet test-routing" uses it to exit 1 when
// the routing backend is unreachable.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this interface on
// returned errors to distinguish "handled non-zero exit" from
// "unexpected error to display".
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Exit codes by error category, so scripts can branch without
// parsing text.
const (
	ExitFailure     = 1
	ExitValidation  = 2
	ExitNotFound    = 3
	ExitUnavailable = 4
)

// ExitCodeFor returns the process exit code for err: 0 for nil, the
// code of an [ExitError], a per-category code for a [ToolError], and
// [ExitFailure] otherwise.
func ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitError *ExitError
	if errors.As(err, &exitError) {
		return exitError.Code
	}
	var toolError *ToolError
	if errors.As(err, &toolError) {
		switch toolError.Category {
		case CategoryValidation:
			return ExitValidation
		case CategoryNotFound:
			return ExitNotFound
		case CategoryUnavailable, CategoryTransient:
			return ExitUnavailable
		}
	}
	return ExitFailure
}
