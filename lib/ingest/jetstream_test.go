// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"timeout", nats.ErrTimeout, ErrEndOfData},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ErrEndOfData},
		{"stream missing", nats.ErrStreamNotFound, ErrTopicNotFound},
		{"consumer missing", nats.ErrConsumerNotFound, ErrTopicNotFound},
		{"bad subscription", nats.ErrBadSubscription, ErrTopicNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := classifyError(test.err); !errors.Is(got, test.want) {
				t.Errorf("classifyError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}

	other := errors.New("connection reset")
	if got := classifyError(other); got != other {
		t.Errorf("classifyError(other) = %v, want unchanged", got)
	}
	if got := classifyError(nats.ErrStreamNotFound); !errors.Is(got, nats.ErrStreamNotFound) {
		t.Error("classified error lost the underlying nats error")
	}
}

func TestMessageFromNATSReadsHeaders(t *testing.T) {
	msg := nats.NewMsg(DefaultSubject)
	msg.Data = []byte{0x28, 0xb5, 0x2f, 0xfd}
	msg.Header.Set(HeaderContentType, "application/cbor")
	msg.Header.Set(HeaderContentEncoding, "zstd")

	message := messageFromNATS(msg)
	if message.ContentType != "application/cbor" || message.ContentEncoding != "zstd" {
		t.Errorf("metadata = %q/%q", message.ContentType, message.ContentEncoding)
	}
	if len(message.Data) != 4 {
		t.Errorf("data length = %d, want 4", len(message.Data))
	}
	if message.Ack == nil {
		t.Error("Ack is nil")
	}

	bare := messageFromNATS(&nats.Msg{Subject: DefaultSubject, Data: []byte("{}")})
	if bare.ContentType != "" || bare.ContentEncoding != "" {
		t.Errorf("headerless message metadata = %q/%q, want empty", bare.ContentType, bare.ContentEncoding)
	}
}
