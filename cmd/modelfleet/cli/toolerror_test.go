// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bureau-foundation/modelfleet/lib/controlclient"
)

func TestToolError_ErrorWithoutHint(t *testing.T) {
	err := Validation("model id is required")
	if err.Error() != "model id is required" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestToolError_ErrorWithHint(t *testing.T) {
	err := Validation("model id is required").WithHint("Pass it as the first argument.")
	want := "model id is required\n\nPass it as the first argument."
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestToolError_WithHintReturnsReceiver(t *testing.T) {
	original := NotFound("deployment %q not found", "dep-1")
	if chained := original.WithHint("list them"); chained != original {
		t.Error("WithHint should return the same pointer")
	}
}

func TestToolError_SurvivesWrapping(t *testing.T) {
	inner := Unavailable("no active nodes").WithHint("start a reporter")
	wrapped := fmt.Errorf("deploy failed: %w", inner)

	var toolError *ToolError
	if !errors.As(wrapped, &toolError) {
		t.Fatal("errors.As should find ToolError in wrapped chain")
	}
	if toolError.Category != CategoryUnavailable || toolError.Hint != "start a reporter" {
		t.Errorf("unwrapped = %+v", toolError)
	}
}

func TestFromAPIError(t *testing.T) {
	tests := []struct {
		kind     string
		category ErrorCategory
		hinted   bool
	}{
		{controlclient.KindValidation, CategoryValidation, false},
		{controlclient.KindNotFound, CategoryNotFound, true},
		{controlclient.KindNoActiveNodes, CategoryUnavailable, true},
		{controlclient.KindNoReachableNodes, CategoryUnavailable, true},
		{controlclient.KindNodeUnavailable, CategoryUnavailable, false},
		{controlclient.KindDispatchFailed, CategoryUnavailable, false},
		{controlclient.KindInternal, CategoryInternal, false},
		{"", CategoryInternal, false},
	}
	for _, test := range tests {
		t.Run(test.kind, func(t *testing.T) {
			apiError := &controlclient.APIError{StatusCode: 400, Kind: test.kind, Message: "boom"}
			err := FromAPIError(fmt.Errorf("POST /deploy: %w", apiError))

			var toolError *ToolError
			if !errors.As(err, &toolError) {
				t.Fatalf("FromAPIError = %T, want *ToolError", err)
			}
			if toolError.Category != test.category {
				t.Errorf("Category = %q, want %q", toolError.Category, test.category)
			}
			if (toolError.Hint != "") != test.hinted {
				t.Errorf("Hint = %q, hinted want %v", toolError.Hint, test.hinted)
			}
			if !errors.Is(err, apiError) {
				t.Error("API error lost from the chain")
			}
		})
	}
}

func TestFromAPIErrorTransportFailure(t *testing.T) {
	err := FromAPIError(errors.New("dial tcp 127.0.0.1:8090: connect: connection refused"))

	var toolError *ToolError
	if !errors.As(err, &toolError) || toolError.Category != CategoryTransient {
		t.Fatalf("FromAPIError = %v, want transient", err)
	}
	if !strings.Contains(err.Error(), "--controller") {
		t.Errorf("error = %q, want a hint about --controller", err.Error())
	}
}

func TestFromAPIErrorPassthrough(t *testing.T) {
	if FromAPIError(nil) != nil {
		t.Error("FromAPIError(nil) != nil")
	}
	original := Validation("bad")
	if err := FromAPIError(original); err != original {
		t.Errorf("FromAPIError re-wrapped a ToolError: %v", err)
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"exit error", &ExitError{Code: 7}, 7},
		{"wrapped exit error", fmt.Errorf("health: %w", &ExitError{Code: 1}), 1},
		{"validation", Validation("bad"), ExitValidation},
		{"not found", NotFound("gone"), ExitNotFound},
		{"unavailable", Unavailable("no nodes"), ExitUnavailable},
		{"transient", Transient("timeout"), ExitUnavailable},
		{"internal", Internal("bug"), ExitFailure},
		{"plain", errors.New("plain"), ExitFailure},
	}
	for _, test := range tests {
		if got := ExitCodeFor(test.err); got != test.want {
			t.Errorf("%s: ExitCodeFor = %d, want %d", test.name, got, test.want)
		}
	}
}
