// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the HTTP client plumbing shared by the
// agent client, the routing publisher, the control client, and the
// service-registry announcer.
//
// Response bodies are read through MaxResponseSize so a misbehaving
// agent or proxy cannot make the controller buffer unbounded data.
// Non-2xx responses become *StatusError, which keeps the status code
// available to callers that treat particular codes (404 on route
// removal) as success.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxResponseSize bounds JSON response reads. Agent, proxy, and
// registry responses are a few hundred bytes.
const MaxResponseSize int64 = 1 << 20

// maxErrorBody is how much of an error body is kept for messages.
const maxErrorBody = 512

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (bounded) and JSON-decodes it
// into v. An empty body decodes to nothing and is not an error.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns a truncated copy of an error response body for use
// in messages. Read errors yield whatever was read.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(data)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// CheckStatus returns nil for 2xx responses and a *StatusError
// otherwise. The body is consumed only on error.
func CheckStatus(response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return &StatusError{
		Method:     response.Request.Method,
		URL:        response.Request.URL.String(),
		StatusCode: response.StatusCode,
		Body:       ErrorBody(response.Body),
	}
}

// IsStatus reports whether err wraps a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusError *StatusError
	return errors.As(err, &statusError) && statusError.StatusCode == code
}
