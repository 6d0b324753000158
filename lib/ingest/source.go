// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
)

var (
	// ErrEndOfData means a fetch waited its full timeout and nothing
	// arrived. Not an error condition.
	ErrEndOfData = errors.New("no telemetry available")

	// ErrTopicNotFound means the stream or its consumer is missing.
	ErrTopicNotFound = errors.New("telemetry topic not found")
)

// Message is one telemetry payload with the metadata needed to decode
// it.
type Message struct {
	Data            []byte
	ContentType     string
	ContentEncoding string

	// Ack acknowledges the message to the transport. Nil when the
	// transport does not need acknowledgement.
	Ack func() error
}

// Source is a telemetry transport.
type Source interface {
	// Fetch waits a bounded time for the next message. It returns
	// ErrEndOfData when nothing arrived and wraps ErrTopicNotFound
	// when the topic is gone.
	Fetch(ctx context.Context) (Message, error)

	// TopicExists reports whether the topic is present.
	TopicExists(ctx context.Context) (bool, error)

	// EnsureTopic creates the topic if it is missing.
	EnsureTopic(ctx context.Context) error

	// Resubscribe drops the current subscription and creates a new one.
	Resubscribe(ctx context.Context) error

	Close() error
}
