// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/fleetstate"
)

var (
	// ErrDeploymentNotFound means no record has the given id.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrNodeUnavailable means the node owning a deployment has no
	// telemetry, so there is no address to send the stop to.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrDuplicateDeployment means an agent reported an id that is
	// already registered.
	ErrDuplicateDeployment = errors.New("deployment already registered")
)

// NodeLookup returns the current telemetry of a node.
// fleetstate.Store.Node satisfies it.
type NodeLookup func(nodeID string) (fleetstate.Node, bool)

// StopTarget is everything needed to stop a deployment: the record and
// the owning node's address as of the lookup.
type StopTarget struct {
	Record Record
	IP     string
	Port   int
}

// journalTimeout bounds each journal write issued from a registry
// mutation.
const journalTimeout = 5 * time.Second

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Journal, when set, persists records and is the source the
	// registry restores from in NewRegistry.
	Journal *Journal

	Clock  clock.Clock
	Logger *slog.Logger
}

// Registry is the table of live deployments.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record

	// version increments on every mutation and orders journal writes.
	version int64

	journal *Journal
	clock   clock.Clock
	logger  *slog.Logger
}

// NewRegistry creates a Registry, restoring records from the journal
// if one is configured.
func NewRegistry(ctx context.Context, config RegistryConfig) (*Registry, error) {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := &Registry{
		records: make(map[string]*Record),
		journal: config.Journal,
		clock:   clk,
		logger:  logger,
	}

	if registry.journal != nil {
		restored, version, err := registry.journal.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("restoring deployments: %w", err)
		}
		for index := range restored {
			record := restored[index]
			registry.records[record.ID] = &record
		}
		registry.version = version
		if len(restored) > 0 {
			logger.Info("deployments restored from journal", "count", len(restored))
		}
	}
	return registry, nil
}

// Insert registers a deployment the agent has confirmed. The record
// passes through Dispatched and is stored as Running. DeployedAt is
// set from the registry clock when zero.
func (r *Registry) Insert(record Record) (Record, error) {
	if record.ID == "" {
		return Record{}, errors.New("deployment id is empty")
	}
	record.State = StateDispatched
	if err := record.advance(StateRunning); err != nil {
		return Record{}, err
	}
	if record.DeployedAt.IsZero() {
		record.DeployedAt = r.clock.Now()
	}

	r.mu.Lock()
	if _, exists := r.records[record.ID]; exists {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateDeployment, record.ID)
	}
	stored := record
	r.records[record.ID] = &stored
	r.version++
	version := r.version
	r.mu.Unlock()

	r.logger.Info("deployment registered",
		"deployment", record.ID,
		"model", record.ModelID,
		"version", record.Version,
		"node", record.NodeID,
		"internal_url", record.InternalURL,
	)
	r.persist(record, version)
	return record, nil
}

// MarkRouted records a published route and moves the record to Routed.
func (r *Registry) MarkRouted(id, publicURL string) (Record, error) {
	r.mu.Lock()
	record, exists := r.records[id]
	if !exists {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err := record.advance(StateRouted); err != nil {
		r.mu.Unlock()
		return Record{}, err
	}
	record.PublicURL = publicURL
	updated := *record
	r.version++
	version := r.version
	r.mu.Unlock()

	r.persist(updated, version)
	return updated, nil
}

// Get returns a copy of one record.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, exists := r.records[id]
	if !exists {
		return Record{}, false
	}
	return *record, true
}

// List returns copies of all records ordered by DeployedAt, then id.
func (r *Registry) List() []Record {
	r.mu.Lock()
	records := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, *record)
	}
	r.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].DeployedAt.Equal(records[j].DeployedAt) {
			return records[i].DeployedAt.Before(records[j].DeployedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records
}

// Len returns the number of registered deployments.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ResolveStopTarget finds the record for id and the current address of
// its node in one critical section. lookup is called with the registry
// lock held and must not call back into the registry. A LocalID record
// needs no agent call, so its target carries no address and its node
// is not looked up.
func (r *Registry) ResolveStopTarget(id string, lookup NodeLookup) (StopTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return StopTarget{}, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if record.LocalID {
		return StopTarget{Record: *record}, nil
	}
	node, ok := lookup(record.NodeID)
	if !ok {
		return StopTarget{}, fmt.Errorf("%w: deployment %s is on node %s, which has no telemetry", ErrNodeUnavailable, id, record.NodeID)
	}
	return StopTarget{Record: *record, IP: node.IP, Port: node.Port}, nil
}

// Remove moves the record to Stopped and deletes it. Returns the final
// record.
func (r *Registry) Remove(id string) (Record, error) {
	r.mu.Lock()
	record, exists := r.records[id]
	if !exists {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err := record.advance(StateStopped); err != nil {
		r.mu.Unlock()
		return Record{}, err
	}
	removed := *record
	delete(r.records, id)
	r.version++
	version := r.version
	r.mu.Unlock()

	r.logger.Info("deployment removed", "deployment", id, "node", removed.NodeID)
	r.persist(removed, version)
	return removed, nil
}

// persist writes a record change to the journal. Failures are logged:
// the in-memory registry stays authoritative for this process.
func (r *Registry) persist(record Record, version int64) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	var err error
	if record.State == StateStopped {
		err = r.journal.Delete(ctx, record.ID, version)
	} else {
		err = r.journal.Save(ctx, record, version)
	}
	if err != nil {
		r.logger.Error("deployment journal write failed",
			"deployment", record.ID,
			"state", record.State,
			"error", err,
		)
	}
}
