// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	DefaultStream       = "SYSTEM_METRICS"
	DefaultSubject      = "system-metrics"
	DefaultDurable      = "deployment-controller-group"
	DefaultFetchTimeout = time.Second

	// Header names carrying payload metadata on NATS messages.
	HeaderContentType     = "Content-Type"
	HeaderContentEncoding = "Content-Encoding"
)

// JetStreamConfig configures a JetStreamSource.
type JetStreamConfig struct {
	URL string

	// ClientName identifies the connection on the server.
	ClientName string

	Stream  string
	Subject string
	Durable string

	// FetchTimeout is how long Fetch waits for a message.
	FetchTimeout time.Duration

	// MaxAge bounds how long the stream keeps telemetry. Zero keeps
	// the server default.
	MaxAge time.Duration

	Logger *slog.Logger
}

// JetStreamSource reads telemetry from a JetStream durable pull
// consumer.
type JetStreamSource struct {
	config JetStreamConfig
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger

	mu           sync.Mutex
	subscription *nats.Subscription
}

// DialJetStream connects to NATS, creates the stream if needed, and
// binds the durable consumer.
func DialJetStream(ctx context.Context, config JetStreamConfig) (*JetStreamSource, error) {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if config.ClientName == "" {
		config.ClientName = "modelfleet-controller"
	}
	if config.Stream == "" {
		config.Stream = DefaultStream
	}
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if config.Durable == "" {
		config.Durable = DefaultDurable
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	conn, err := nats.Connect(config.URL,
		nats.Name(config.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: connecting to %s: %w", config.URL, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ingest: jetstream context: %w", err)
	}

	source := &JetStreamSource{config: config, conn: conn, js: js, logger: logger}
	if err := source.EnsureTopic(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := source.Resubscribe(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("jetstream telemetry source ready",
		"url", conn.ConnectedUrl(),
		"stream", config.Stream,
		"subject", config.Subject,
		"durable", config.Durable,
	)
	return source, nil
}

// Fetch pulls one message.
func (s *JetStreamSource) Fetch(ctx context.Context) (Message, error) {
	s.mu.Lock()
	subscription := s.subscription
	s.mu.Unlock()
	if subscription == nil {
		return Message{}, fmt.Errorf("%w: no active subscription", ErrTopicNotFound)
	}

	messages, err := subscription.Fetch(1, nats.MaxWait(s.config.FetchTimeout))
	if err != nil {
		return Message{}, classifyError(err)
	}
	if len(messages) == 0 {
		return Message{}, ErrEndOfData
	}
	return messageFromNATS(messages[0]), nil
}

// TopicExists reports whether the stream exists.
func (s *JetStreamSource) TopicExists(ctx context.Context) (bool, error) {
	_, err := s.js.StreamInfo(s.config.Stream, nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ingest: stream info %s: %w", s.config.Stream, err)
	}
	return true, nil
}

// EnsureTopic creates the stream when it does not exist.
func (s *JetStreamSource) EnsureTopic(ctx context.Context) error {
	exists, err := s.TopicExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.js.AddStream(&nats.StreamConfig{
		Name:     s.config.Stream,
		Subjects: []string{s.config.Subject},
		Storage:  nats.FileStorage,
		MaxAge:   s.config.MaxAge,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("ingest: creating stream %s: %w", s.config.Stream, err)
	}
	s.logger.Info("telemetry stream created", "stream", s.config.Stream, "subject", s.config.Subject)
	return nil
}

// Resubscribe replaces the pull subscription. The durable consumer
// keeps its position across resubscribes.
func (s *JetStreamSource) Resubscribe(context.Context) error {
	subscription, err := s.js.PullSubscribe(s.config.Subject, s.config.Durable,
		nats.BindStream(s.config.Stream),
	)
	if err != nil {
		return fmt.Errorf("ingest: subscribing %s as %s: %w", s.config.Subject, s.config.Durable, classifyError(err))
	}

	s.mu.Lock()
	previous := s.subscription
	s.subscription = subscription
	s.mu.Unlock()

	if previous != nil && previous.IsValid() {
		// Unsubscribe on a pull subscription would delete the durable.
		if err := previous.Drain(); err != nil {
			s.logger.Debug("draining previous subscription", "error", err)
		}
	}
	return nil
}

// Close drains the connection.
func (s *JetStreamSource) Close() error {
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("ingest: draining nats connection: %w", err)
	}
	return nil
}

// classifyError maps NATS errors onto the Source error contract.
func classifyError(err error) error {
	switch {
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrEndOfData
	case errors.Is(err, nats.ErrStreamNotFound),
		errors.Is(err, nats.ErrConsumerNotFound),
		errors.Is(err, nats.ErrBadSubscription),
		errors.Is(err, nats.ErrNoResponders):
		return fmt.Errorf("%w: %w", ErrTopicNotFound, err)
	default:
		return err
	}
}

func messageFromNATS(msg *nats.Msg) Message {
	message := Message{Data: msg.Data, Ack: func() error { return msg.Ack() }}
	if msg.Header != nil {
		message.ContentType = msg.Header.Get(HeaderContentType)
		message.ContentEncoding = msg.Header.Get(HeaderContentEncoding)
	}
	return message
}
