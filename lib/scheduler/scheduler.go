// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/fleetstate"
)

var (
	// ErrNoActiveNodes means no node has telemetry inside the
	// staleness window.
	ErrNoActiveNodes = errors.New("no active nodes")

	// ErrNoReachableNodes means every active node failed its health
	// probe.
	ErrNoReachableNodes = errors.New("no reachable nodes")
)

// Defaults for Config.
const (
	DefaultStalenessWindow    = 300 * time.Second
	DefaultHealthCheckTimeout = 60 * time.Second
)

// Config holds the runtime-tunable scheduling parameters.
type Config struct {
	// StalenessWindow is the maximum telemetry age for a node to be
	// eligible.
	StalenessWindow time.Duration

	// SkipConnectivityTest disables health probing entirely, for
	// networks where probes are unreliable or slow.
	SkipConnectivityTest bool

	// HealthCheckTimeout bounds each probe.
	HealthCheckTimeout time.Duration
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		StalenessWindow:    DefaultStalenessWindow,
		HealthCheckTimeout: DefaultHealthCheckTimeout,
	}
}

// Validate rejects non-positive durations.
func (c Config) Validate() error {
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("staleness window must be positive, got %v", c.StalenessWindow)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health check timeout must be positive, got %v", c.HealthCheckTimeout)
	}
	return nil
}

// Prober checks whether a node's agent answers. Implemented by
// agentclient.Client.
type Prober interface {
	Probe(ctx context.Context, ip string, port int) error
}

// Selection is the outcome of a successful scheduling decision.
type Selection struct {
	NodeID string
	IP     string
	Port   int
	Score  float64

	// Eligible lists the node ids that survived filtering, sorted.
	// The chosen node is always one of them.
	Eligible []string
}

// Scheduler selects nodes from a fleet state store.
type Scheduler struct {
	store  *fleetstate.Store
	prober Prober
	clock  clock.Clock
	logger *slog.Logger

	configMu sync.Mutex
	config   Config
}

// New creates a Scheduler. prober may be nil only if config disables
// connectivity probing for the scheduler's whole lifetime.
func New(store *fleetstate.Store, prober Prober, config Config, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		store:  store,
		prober: prober,
		clock:  clk,
		logger: logger,
		config: config,
	}, nil
}

// Config returns the current parameters.
func (s *Scheduler) Config() Config {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.config
}

// Update applies change to a copy of the current parameters and
// installs the result if it validates. Returns the effective config.
func (s *Scheduler) Update(change func(*Config)) (Config, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	updated := s.config
	change(&updated)
	if err := updated.Validate(); err != nil {
		return s.config, err
	}
	s.config = updated
	return updated, nil
}

// Active returns the nodes of one snapshot whose telemetry is inside
// the staleness window, sorted by node id.
func (s *Scheduler) Active() []fleetstate.Node {
	return activeNodes(s.store.Snapshot(), s.clock.Now(), s.Config().StalenessWindow)
}

// Select chooses a node for a deployment of modelID:version. The model
// is used only for logging; placement depends on load alone.
func (s *Scheduler) Select(ctx context.Context, modelID, version string) (Selection, error) {
	config := s.Config()
	now := s.clock.Now()
	snapshot := s.store.Snapshot()

	candidates := activeNodes(snapshot, now, config.StalenessWindow)
	if len(candidates) == 0 {
		s.logger.Warn("no active nodes",
			"model", modelID,
			"version", version,
			"known_nodes", len(snapshot),
			"staleness_window", config.StalenessWindow,
		)
		return Selection{}, ErrNoActiveNodes
	}

	if !config.SkipConnectivityTest {
		candidates = s.reachable(ctx, candidates, config.HealthCheckTimeout)
		s.store.PurgeExpiredHealth()
		if len(candidates) == 0 {
			s.logger.Warn("no reachable nodes", "model", modelID, "version", version)
			return Selection{}, ErrNoReachableNodes
		}
	}

	best, score := pickLowest(candidates)
	chosen := candidates[best]

	eligible := make([]string, len(candidates))
	for index, node := range candidates {
		eligible[index] = node.ID
	}

	s.logger.Info("node selected",
		"model", modelID,
		"version", version,
		"node", chosen.ID,
		"score", score,
		"candidates", len(candidates),
	)
	return Selection{
		NodeID:   chosen.ID,
		IP:       chosen.IP,
		Port:     chosen.Port,
		Score:    score,
		Eligible: eligible,
	}, nil
}

// activeNodes filters a sorted snapshot to nodes updated within window
// of now.
func activeNodes(snapshot []fleetstate.Node, now time.Time, window time.Duration) []fleetstate.Node {
	active := make([]fleetstate.Node, 0, len(snapshot))
	for _, node := range snapshot {
		if now.Sub(node.LastUpdated) <= window {
			active = append(active, node)
		}
	}
	return active
}

// reachable returns the candidates whose agents answer, preserving
// order. Cached results are used where fresh; the rest are probed in
// parallel and cached.
func (s *Scheduler) reachable(ctx context.Context, candidates []fleetstate.Node, timeout time.Duration) []fleetstate.Node {
	// A caller giving up must not abort probes whose results are
	// cached for other decisions.
	probeCtx := context.WithoutCancel(ctx)

	results := make([]bool, len(candidates))
	var wait sync.WaitGroup
	for index, node := range candidates {
		if cached, ok := s.store.GetHealth(node.Key()); ok {
			results[index] = cached
			continue
		}
		if s.prober == nil {
			// Probing requested without a prober: treat as
			// unreachable rather than guessing.
			s.logger.Error("connectivity probing enabled but no prober configured", "node", node.ID)
			continue
		}
		wait.Add(1)
		go func() {
			defer wait.Done()
			results[index] = s.probe(probeCtx, node, timeout)
		}()
	}
	wait.Wait()

	reachable := make([]fleetstate.Node, 0, len(candidates))
	for index, node := range candidates {
		if results[index] {
			reachable = append(reachable, node)
		}
	}
	return reachable
}

func (s *Scheduler) probe(ctx context.Context, node fleetstate.Node, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.prober.Probe(probeCtx, node.IP, node.Port)
	reachable := err == nil
	if !reachable {
		s.logger.Warn("node health probe failed",
			"node", node.ID,
			"ip", node.IP,
			"port", node.Port,
			"error", err,
		)
	}
	s.store.SetHealth(node.Key(), reachable)
	return reachable
}
