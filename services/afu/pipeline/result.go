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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageGraph   Stage = "graph"
	StageCombine Stage = "combine"
)

// UnitResult is the outcome of one unit in one stage.
type UnitResult struct {
	Unit   string     `json:"unit"`
	Stage  Stage      `json:"stage"`
	Reason ReasonCode `json:"reason"`

	// Err is the unit error, nil on success.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	// Input is the fact, source or graph artifact the unit was read from.
	Input string `json:"input"`

	// Output is the artifact written, empty on failure.
	Output string `json:"output,omitempty"`

	Nodes    int           `json:"nodes,omitempty"`
	Edges    int           `json:"edges,omitempty"`
	Records  int           `json:"records,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether the unit succeeded.
func (r UnitResult) OK() bool {
	return r.Reason == ReasonOK
}

// BatchReport aggregates the results of one stage over a batch.
//
// Description:
//
//	Results keep the discovery order of the units, so two runs over the
//	same inputs produce reports that differ only in timings and RunID.
type BatchReport struct {
	RunID     string             `json:"run_id"`
	Stage     Stage              `json:"stage"`
	Started   time.Time          `json:"started"`
	Finished  time.Time          `json:"finished"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	ByReason  map[ReasonCode]int `json:"by_reason"`
	Results   []UnitResult       `json:"results"`
}

func newBatchReport(stage Stage, total int) *BatchReport {
	return &BatchReport{
		RunID:    uuid.NewString(),
		Stage:    stage,
		Started:  time.Now(),
		Total:    total,
		ByReason: make(map[ReasonCode]int),
		Results:  make([]UnitResult, 0, total),
	}
}

// finish tallies results. Canceled units count as skipped.
func (b *BatchReport) finish(results []UnitResult) {
	b.Finished = time.Now()
	for _, r := range results {
		if r.Err != nil && r.Error == "" {
			r.Error = r.Err.Error()
		}
		b.ByReason[r.Reason]++
		switch r.Reason {
		case ReasonOK:
			b.Succeeded++
		case ReasonCanceled:
			b.Skipped++
		default:
			b.Failed++
		}
		b.Results = append(b.Results, r)
	}
}

// Failures returns the results that neither succeeded nor were skipped.
func (b *BatchReport) Failures() []UnitResult {
	var out []UnitResult
	for _, r := range b.Results {
		if r.Reason != ReasonOK && r.Reason != ReasonCanceled {
			out = append(out, r)
		}
	}
	return out
}

// Duration is the wall time of the batch.
func (b *BatchReport) Duration() time.Duration {
	return b.Finished.Sub(b.Started)
}

// Summary renders a short human-readable summary.
func (b *BatchReport) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s run %s: %d units, %d ok, %d failed, %d skipped in %s\n",
		b.Stage, b.RunID, b.Total, b.Succeeded, b.Failed, b.Skipped, b.Duration().Round(time.Millisecond))

	reasons := make([]string, 0, len(b.ByReason))
	for r := range b.ByReason {
		if r != ReasonOK {
			reasons = append(reasons, string(r))
		}
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&sb, "  %-22s %d\n", r, b.ByReason[ReasonCode(r)])
	}
	return sb.String()
}

// WriteJSON writes the report as indented JSON.
func (b *BatchReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("encoding batch report: %w", err)
	}
	return nil
}
