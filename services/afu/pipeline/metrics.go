// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// =============================================================================
// Prometheus Metrics for the AFU Pipeline
// =============================================================================

var (
	// unitsTotal counts processed units by stage and outcome.
	// Labels: stage (graph, combine), reason (ok, analysis_failure, ...)
	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afu",
		Subsystem: "pipeline",
		Name:      "units_total",
		Help:      "Total processed units by stage and reason code",
	}, []string{"stage", "reason"})

	// unitDurationSeconds measures per-unit processing time.
	// Labels: stage
	unitDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "afu",
		Subsystem: "pipeline",
		Name:      "unit_duration_seconds",
		Help:      "Per-unit processing time by stage",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
	}, []string{"stage"})

	// graphEdgesTotal counts rendered call-graph edges.
	// Labels: type (internal_call, external_call, solidity_call)
	graphEdgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "afu",
		Subsystem: "graph",
		Name:      "edges_total",
		Help:      "Total rendered call-graph edges by edge type",
	}, []string{"type"})

	// combineRecordsTotal counts edge records written to AFU artifacts.
	combineRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "afu",
		Subsystem: "combine",
		Name:      "records_total",
		Help:      "Total edge records written to AFU artifacts",
	})
)

// recordUnit records one unit outcome.
func recordUnit(r UnitResult) {
	unitsTotal.WithLabelValues(string(r.Stage), string(r.Reason)).Inc()
	if r.Reason != ReasonCanceled {
		unitDurationSeconds.WithLabelValues(string(r.Stage)).Observe(r.Duration.Seconds())
	}
}

// recordGraph records the edge counts of a built graph.
func recordGraph(g *graph.CallGraph) {
	for typ, n := range g.EdgeCountByType() {
		graphEdgesTotal.WithLabelValues(string(typ)).Add(float64(n))
	}
}

// recordCombine records written AFU records.
func recordCombine(records int) {
	combineRecordsTotal.Add(float64(records))
}
