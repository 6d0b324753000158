// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetstate is the controller's single source of truth for
// what it currently believes about each node: the latest telemetry and
// a short-lived cache of reachability probes.
//
// One mutex guards both maps. Every method holds it only for map
// operations; callers that need to do I/O take a Snapshot first and
// work on the copy.
package fleetstate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/clock"
	"github.com/bureau-foundation/modelfleet/lib/telemetry"
)

// DefaultHealthTTL is how long a probe result stays valid.
const DefaultHealthTTL = 30 * time.Second

// Node is the latest telemetry known for one node.
type Node struct {
	ID            string
	IP            string
	Port          int
	CPUPercent    *float64
	MemoryPercent *float64

	// ReportedAt is the reporter's own timestamp, if it sent one.
	ReportedAt time.Time

	// LastUpdated is the controller's clock at the most recent upsert.
	// It never moves backwards.
	LastUpdated time.Time

	// Extra is the opaque remainder of the telemetry payload. Shared
	// between snapshots and never mutated after upsert.
	Extra map[string]any
}

// HealthKey identifies a cached probe result. The address is part of
// the key so a node that moves to a new address is probed again.
type HealthKey struct {
	NodeID string
	IP     string
	Port   int
}

// Key returns the health-cache key for the node's current address.
func (n Node) Key() HealthKey {
	return HealthKey{NodeID: n.ID, IP: n.IP, Port: n.Port}
}

type healthEntry struct {
	reachable bool
	checkedAt time.Time
}

// Config configures a Store.
type Config struct {
	Clock clock.Clock

	// HealthTTL defaults to DefaultHealthTTL.
	HealthTTL time.Duration

	Logger *slog.Logger
}

// Store holds node telemetry and the health cache.
type Store struct {
	mu     sync.Mutex
	nodes  map[string]*Node
	health map[HealthKey]healthEntry

	clock     clock.Clock
	healthTTL time.Duration
	logger    *slog.Logger
}

// New creates an empty Store.
func New(config Config) *Store {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ttl := config.HealthTTL
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		nodes:     make(map[string]*Node),
		health:    make(map[HealthKey]healthEntry),
		clock:     clk,
		healthTTL: ttl,
		logger:    logger,
	}
}

// UpsertTelemetry replaces the node's record with record and stamps it
// with the current time. Last write wins. LastUpdated never decreases
// even if the clock does.
func (s *Store) UpsertTelemetry(nodeID string, record telemetry.Record) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, known := s.nodes[nodeID]
	if known && now.Before(previous.LastUpdated) {
		now = previous.LastUpdated
	}
	if !known {
		s.logger.Info("node discovered", "node", nodeID, "ip", record.IP, "port", record.Port)
	} else if previous.IP != record.IP || previous.Port != record.Port {
		s.logger.Info("node address changed",
			"node", nodeID,
			"old_ip", previous.IP,
			"old_port", previous.Port,
			"ip", record.IP,
			"port", record.Port,
		)
	}

	s.nodes[nodeID] = &Node{
		ID:            nodeID,
		IP:            record.IP,
		Port:          record.Port,
		CPUPercent:    copyFloat(record.CPUPercent),
		MemoryPercent: copyFloat(record.MemoryPercent),
		ReportedAt:    record.Timestamp,
		LastUpdated:   now,
		Extra:         record.Extra,
	}
}

// Snapshot returns a copy of every node taken at one instant, sorted
// by node id. Later upserts do not affect the returned slice.
func (s *Store) Snapshot() []Node {
	s.mu.Lock()
	nodes := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		nodes = append(nodes, copyNode(node))
	}
	s.mu.Unlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Node returns a copy of one node's record.
func (s *Store) Node(nodeID string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return copyNode(node), true
}

// Len returns the number of nodes ever seen.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// GetHealth returns the cached reachability for key. ok is false when
// there is no entry or the entry is older than the TTL.
func (s *Store) GetHealth(key HealthKey) (reachable, ok bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, found := s.health[key]
	if !found {
		return false, false
	}
	if now.Sub(entry.checkedAt) >= s.healthTTL {
		delete(s.health, key)
		return false, false
	}
	return entry.reachable, true
}

// SetHealth records a probe result for key.
func (s *Store) SetHealth(key HealthKey, reachable bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[key] = healthEntry{reachable: reachable, checkedAt: now}
}

// PurgeExpiredHealth drops expired cache entries and returns how many
// were removed.
func (s *Store) PurgeExpiredHealth() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.health {
		if now.Sub(entry.checkedAt) >= s.healthTTL {
			delete(s.health, key)
			removed++
		}
	}
	return removed
}

func copyNode(node *Node) Node {
	copied := *node
	copied.CPUPercent = copyFloat(node.CPUPercent)
	copied.MemoryPercent = copyFloat(node.MemoryPercent)
	return copied
}

func copyFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
