// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import "github.com/bureau-foundation/modelfleet/lib/fleetstate"

// Score weights. CPU dominates because model runtimes are CPU-bound on
// the laptops this targets.
const (
	cpuWeight    = 0.7
	memoryWeight = 0.3

	// missingMetric is substituted for an unreported metric, which
	// ranks incomplete telemetry behind any node reporting real load.
	missingMetric = 100.0
)

// Score returns the load score of node. Lower is better.
func Score(node fleetstate.Node) float64 {
	return cpuWeight*metricOrMissing(node.CPUPercent) + memoryWeight*metricOrMissing(node.MemoryPercent)
}

func metricOrMissing(value *float64) float64 {
	if value == nil {
		return missingMetric
	}
	return *value
}

// pickLowest returns the index of the lowest-scoring candidate. Ties
// go to the smallest node id. candidates must be non-empty.
func pickLowest(candidates []fleetstate.Node) (int, float64) {
	best := 0
	bestScore := Score(candidates[0])
	for index := 1; index < len(candidates); index++ {
		score := Score(candidates[index])
		if score < bestScore || (score == bestScore && candidates[index].ID < candidates[best].ID) {
			best = index
			bestScore = score
		}
	}
	return best, bestScore
}
