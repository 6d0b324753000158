// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deployment

import (
	"errors"
	"fmt"
	"time"
)

// State is a deployment lifecycle state.
type State string

const (
	StateDispatched State = "dispatched"
	StateRunning    State = "running"
	StateRouted     State = "routed"
	StateStopped    State = "stopped"
)

// ErrInvalidTransition is returned for a state change the lifecycle
// does not allow.
var ErrInvalidTransition = errors.New("invalid deployment state transition")

// transitions lists the legal next states of each state. Stopped is
// terminal.
var transitions = map[State][]State{
	StateDispatched: {StateRunning, StateStopped},
	StateRunning:    {StateRouted, StateStopped},
	StateRouted:     {StateStopped},
}

// CanTransition reports whether a record in s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Record is one deployment. The json tags double as the CBOR field
// names in the journal.
type Record struct {
	ID          string    `json:"id"`
	ModelID     string    `json:"modelId"`
	Version     string    `json:"version"`
	NodeID      string    `json:"nodeId"`
	InternalURL string    `json:"internalUrl"`
	PublicURL   string    `json:"publicUrl,omitempty"`
	DeployedAt  time.Time `json:"deployedAt"`
	State       State     `json:"state"`

	// LocalID marks an id the controller generated because the agent
	// returned none. The agent cannot stop such a deployment by id.
	LocalID bool `json:"localId,omitempty"`
}

// advance moves r to next or returns ErrInvalidTransition.
func (r *Record) advance(next State) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("%w: deployment %s: %s → %s", ErrInvalidTransition, r.ID, r.State, next)
	}
	r.State = next
	return nil
}

// Uptime returns how long the deployment has existed at now.
func (r Record) Uptime(now time.Time) time.Duration {
	if r.DeployedAt.IsZero() || now.Before(r.DeployedAt) {
		return 0
	}
	return now.Sub(r.DeployedAt)
}
