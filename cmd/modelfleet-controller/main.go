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
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelfleet/lib/agentclient"
	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/config"
	"github.com/bureau-foundation/modelfleet/lib/deployment"
	"github.com/bureau-foundation/modelfleet/lib/fleetmetrics"
	"github.com/bureau-foundation/modelfleet/lib/fleetstate"
	"github.com/bureau-foundation/modelfleet/lib/netutil"
	"github.com/bureau-foundation/modelfleet/lib/process"
	"github.com/bureau-foundation/modelfleet/lib/routing"
	"github.com/bureau-foundation/modelfleet/lib/scheduler"
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
		showVersion bool
	)
	flags := pflag.NewFlagSet("modelfleet-controller", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the YAML configuration (default $"+config.EnvConfig+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("modelfleet-controller")
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

	clk := clock.Real()
	metrics := fleetmetrics.New()

	store := fleetstate.New(fleetstate.Config{
		Clock:     clk,
		HealthTTL: cfg.Scheduler.HealthTTL,
		Logger:    logger,
	})

	agents := agentclient.New(agentclient.Config{
		Scheme:        cfg.Agent.Scheme,
		DeployPath:    cfg.Agent.DeployPath,
		StopPath:      cfg.Agent.StopPath,
		HealthPath:    cfg.Agent.HealthPath,
		DeployTimeout: cfg.Agent.DeployTimeout,
		StopTimeout:   cfg.Agent.StopTimeout,
	})

	nodeScheduler, err := scheduler.New(store, meteredProber{prober: agents, metrics: metrics}, scheduler.Config{
		StalenessWindow:      cfg.Scheduler.StalenessWindow,
		SkipConnectivityTest: cfg.Scheduler.SkipConnectivityTest,
		HealthCheckTimeout:   cfg.Scheduler.HealthCheckTimeout,
	}, clk, logger)
	if err != nil {
		return err
	}

	var journal *deployment.Journal
	if cfg.Journal.Path != "" {
		journal, err = deployment.OpenJournal(deployment.JournalConfig{
			Path:   cfg.Journal.Path,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("opening deployment journal: %w", err)
		}
		defer journal.Close()
	}

	registry, err := deployment.NewRegistry(ctx, deployment.RegistryConfig{
		Journal: journal,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var publisher routePublisher
	if cfg.Routing.AdminURL != "" {
		caddy, err := routing.New(routing.Config{
			AdminURL:      cfg.Routing.AdminURL,
			Server:        cfg.Routing.Server,
			PublicURLBase: cfg.Routing.PublicURLBase,
			Timeout:       cfg.Routing.Timeout,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("configuring routing: %w", err)
		}
		publisher = caddy
	}

	controller := newController(controllerConfig{
		Store:            store,
		Scheduler:        nodeScheduler,
		Registry:         registry,
		Agents:           agents,
		Publisher:        publisher,
		EnablePublicURLs: cfg.Routing.EnablePublicURLs,
		RoutingAdminURL:  cfg.Routing.AdminURL,
		PublicURLBase:    cfg.Routing.PublicURLBase,
		Metrics:          metrics,
		Clock:            clk,
		Logger:           logger,
	})
	metrics.RegisterFleet(controller)

	worker := newIngestWorker(cfg.Ingest, store, clk, logger)
	metrics.RegisterIngest(worker)
	go process.Supervise(ctx, process.SuperviseConfig{
		Name:         "telemetry-ingest",
		RestartDelay: cfg.Controller.RestartDelay,
		Clock:        clk,
		Logger:       logger,
	}, worker.run, func(int) {
		metrics.IngestRestarts.Inc()
	})

	go controller.purgeHealthCache(ctx, cfg.Scheduler.HealthTTL)

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Controller.Listen,
		Handler:         newRouter(controller, metrics.Handler(), logger),
		ShutdownTimeout: cfg.Controller.ShutdownTimeout,
		// A deploy answers only once the agent does.
		WriteTimeout: cfg.Agent.DeployTimeout + cfg.Scheduler.HealthCheckTimeout,
		Logger:       logger,
	})
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(ctx)
	}()

	select {
	case <-server.Ready():
	case err := <-serverDone:
		return err
	}

	if cfg.Registry.URL != "" {
		if err := announce(ctx, cfg.Registry, server.Addr(), clk, logger); err != nil {
			stop()
			<-serverDone
			return err
		}
	}

	logger.Info("controller running",
		"version", version.Info(),
		"listen", server.Addr().String(),
		"nats", cfg.Ingest.NATSURL,
		"public_urls", cfg.Routing.EnablePublicURLs,
		"journal", cfg.Journal.Path,
		"deployments", registry.Len(),
	)

	if err := <-serverDone; err != nil {
		return err
	}
	logger.Info("controller stopped")
	return nil
}

// announce registers the controller with the service registry under
// the IP other hosts route to it by.
func announce(ctx context.Context, cfg config.RegistryConfig, listen net.Addr, clk clock.Clock, logger *slog.Logger) error {
	target, err := dialTarget(cfg.URL)
	if err != nil {
		return fmt.Errorf("registry.url: %w", err)
	}
	ip, err := netutil.OutboundIP(target)
	if err != nil {
		return fmt.Errorf("discovering outbound IP: %w", err)
	}
	port := 0
	if tcp, ok := listen.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return service.Announce(ctx, service.AnnounceConfig{
		RegistryURL: cfg.URL,
		MaxAttempts: cfg.MaxAttempts,
		MaxBackoff:  cfg.RetryInterval,
		Clock:       clk,
		Logger:      logger,
	}, service.Registration{
		Name: cfg.ServiceName,
		IP:   ip.String(),
		Port: port,
	})
}

// dialTarget turns a registry URL into the host:port OutboundIP
// routes toward.
func dialTarget(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%q has no host", rawURL)
	}
	port := parsed.Port()
	if port == "" {
		port = "80"
		if parsed.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(parsed.Hostname(), port), nil
}
