// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/config"
	"github.com/bureau-foundation/modelfleet/lib/ingest"
	"github.com/bureau-foundation/modelfleet/lib/netutil"
	"github.com/bureau-foundation/modelfleet/lib/process"
	"github.com/bureau-foundation/modelfleet/lib/service"
	"github.com/bureau-foundation/modelfleet/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		once        bool
		showVersion bool
	)
	flags := pflag.NewFlagSet("modelfleet-reporter", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the YAML configuration (default $"+config.EnvConfig+")")
	flags.BoolVar(&once, "once", false, "publish a single report and exit")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("modelfleet-reporter")
		return nil
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := service.NewLogger(service.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsURL := cfg.Ingest.NATSURL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	subject := cfg.Ingest.Subject
	if subject == "" {
		subject = ingest.DefaultSubject
	}

	nodeID, agentIP, err := identity(cfg.Reporter, natsURL)
	if err != nil {
		return err
	}

	conn, err := connect(natsURL, nodeID, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	js, err := conn.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	r := &reporter{
		nodeID:          nodeID,
		agentIP:         agentIP,
		agentPort:       cfg.Reporter.AgentPort,
		contentType:     cfg.Reporter.ContentType,
		contentEncoding: cfg.Reporter.ContentEncoding,
		sampler:         newSystemSampler(cfg.Reporter.DiskPath, logger),
		publisher:       &jetStreamPublisher{js: js, subject: subject},
		clock:           clock.Real(),
		logger:          logger,
	}

	if once {
		return r.report(ctx)
	}

	logger.Info("reporter running",
		"version", version.Info(),
		"node_id", nodeID,
		"agent", net.JoinHostPort(agentIP, fmt.Sprint(cfg.Reporter.AgentPort)),
		"nats", conn.ConnectedUrl(),
		"subject", subject,
		"interval", cfg.Reporter.Interval,
		"content_type", cfg.Reporter.ContentType,
		"content_encoding", cfg.Reporter.ContentEncoding,
	)

	if err := r.run(ctx, cfg.Reporter.Interval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := conn.Drain(); err != nil {
		logger.Warn("draining nats connection", "error", err)
	}
	return nil
}

// identity resolves the node id and agent IP the reports carry,
// filling unset values from the hostname and the route to NATS.
func identity(cfg config.ReporterConfig, natsURL string) (nodeID, agentIP string, err error) {
	nodeID = cfg.NodeID
	if nodeID == "" {
		nodeID, err = os.Hostname()
		if err != nil {
			return "", "", fmt.Errorf("reporter.node_id unset and hostname unavailable: %w", err)
		}
	}

	agentIP = cfg.AgentIP
	if agentIP == "" {
		target, err := natsTarget(natsURL)
		if err != nil {
			return "", "", fmt.Errorf("ingest.nats_url: %w", err)
		}
		ip, err := netutil.OutboundIP(target)
		if err != nil {
			return "", "", fmt.Errorf("reporter.agent_ip unset: %w", err)
		}
		agentIP = ip.String()
	}
	return nodeID, agentIP, nil
}

// natsTarget turns the first server of a NATS URL list into the
// host:port OutboundIP routes toward.
func natsTarget(rawURL string) (string, error) {
	first, _, _ := strings.Cut(rawURL, ",")
	parsed, err := url.Parse(strings.TrimSpace(first))
	if err != nil {
		return "", err
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%q has no host", rawURL)
	}
	port := parsed.Port()
	if port == "" {
		port = fmt.Sprint(nats.DefaultPort)
	}
	return net.JoinHostPort(parsed.Hostname(), port), nil
}

func connect(natsURL, nodeID string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("modelfleet-reporter/"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", natsURL, err)
	}
	return conn, nil
}
