// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
)

var tracer = otel.Tracer("afu.graph")

// ctxCheckInterval is how many functions are visited between context checks.
const ctxCheckInterval = 64

// DedupPolicy selects how repeated calls between the same endpoints are kept.
type DedupPolicy string

const (
	// DedupCallExistence collapses structurally identical calls
	// (source, target, type, label) into one edge. The graph records
	// that a call exists, not how often it is made.
	DedupCallExistence DedupPolicy = "call_existence"

	// DedupCallSites keeps one edge per reported call site.
	DedupCallSites DedupPolicy = "call_sites"
)

// ParseDedupPolicy parses a policy name. The empty string selects
// DedupCallExistence.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(s) {
	case "", DedupCallExistence:
		return DedupCallExistence, nil
	case DedupCallSites:
		return DedupCallSites, nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q", s)
	}
}

// BuildOptions configures Build.
type BuildOptions struct {
	// Dedup is the call deduplication policy. Default: DedupCallExistence.
	Dedup DedupPolicy

	// Logger receives debug output about dropped calls. Default: slog.Default().
	Logger *slog.Logger
}

// BuildOption is a functional option for Build.
type BuildOption func(*BuildOptions)

// WithDedupPolicy sets the call deduplication policy.
func WithDedupPolicy(p DedupPolicy) BuildOption {
	return func(o *BuildOptions) {
		o.Dedup = p
	}
}

// WithLogger sets the build logger.
func WithLogger(l *slog.Logger) BuildOption {
	return func(o *BuildOptions) {
		o.Logger = l
	}
}

// BuildStats summarizes one build.
type BuildStats struct {
	Contracts            int   `json:"contracts"`
	Functions            int   `json:"functions"`
	Nodes                int   `json:"nodes"`
	Edges                int   `json:"edges"`
	InternalCalls        int   `json:"internal_calls"`
	SolidityCalls        int   `json:"solidity_calls"`
	ExternalCalls        int   `json:"external_calls"`
	DroppedExternalCalls int   `json:"dropped_external_calls"`
	CollapsedCalls       int   `json:"collapsed_calls"`
	DurationMicro        int64 `json:"duration_micro"`
}

// BuildResult holds the frozen graph and its build statistics.
type BuildResult struct {
	Graph *CallGraph
	Stats BuildStats
}

// call is one accumulated call before rendering. Endpoint records travel
// with the call so that render can create missing endpoints on demand.
type call struct {
	from Node
	to   Node
	typ  EdgeType
}

func (c call) key() EdgeKey {
	return EdgeKey{From: c.from.ID, To: c.to.ID, Type: c.typ, Label: string(c.typ)}
}

// callSet accumulates calls in first-seen order under a dedup policy.
type callSet struct {
	policy    DedupPolicy
	seen      map[EdgeKey]struct{}
	calls     []call
	collapsed int
}

func newCallSet(p DedupPolicy) *callSet {
	return &callSet{policy: p, seen: make(map[EdgeKey]struct{})}
}

func (s *callSet) add(c call) {
	if s.policy == DedupCallExistence {
		k := c.key()
		if _, ok := s.seen[k]; ok {
			s.collapsed++
			return
		}
		s.seen[k] = struct{}{}
	}
	s.calls = append(s.calls, c)
}

// contractAccumulator collects the nodes and internal/builtin calls of
// one contract.
type contractAccumulator struct {
	key      ContractKey
	nodes    []Node
	nodeSeen map[NodeID]struct{}
	calls    *callSet
}

func newContractAccumulator(k ContractKey, p DedupPolicy) *contractAccumulator {
	return &contractAccumulator{
		key:      k,
		nodeSeen: make(map[NodeID]struct{}),
		calls:    newCallSet(p),
	}
}

func (a *contractAccumulator) addNode(n Node) {
	if _, ok := a.nodeSeen[n.ID]; ok {
		return
	}
	a.nodeSeen[n.ID] = struct{}{}
	a.nodes = append(a.nodes, n)
}

// BuildUnit deduplicates the unit's functions by canonical name and builds
// its call graph.
func BuildUnit(ctx context.Context, u *facts.Unit, opts ...BuildOption) (*BuildResult, error) {
	if u == nil {
		return nil, fmt.Errorf("unit must not be nil")
	}
	return Build(ctx, u.SourceUnit, u.Dedup(), opts...)
}

// Build constructs the call graph of one source unit.
//
// Description:
//
//	Visits every function once, accumulating nodes and calls per declaring
//	contract, then renders the accumulated state into a new CallGraph and
//	freezes it. No state outlives the call.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked periodically while visiting.
//	unit - Source unit name. Scopes every user node id.
//	functions - All functions of the unit.
//	opts - Optional BuildOption values.
//
// Outputs:
//
//	*BuildResult - The frozen graph and statistics. Nil on error.
//	error - Wraps ErrMalformedLineSpan if any function or callee location
//	        cannot be parsed, or returns ctx.Err() on cancellation.
//
// Build Phases:
//
//  1. PARTITION: group functions by contract, collect known contracts
//  2. COLLECT: own nodes, internal and builtin calls, external calls into
//     known contracts (calls into unknown contracts are dropped)
//  3. RENDER: contracts in (id, name) order, each with nodes then
//     internal/builtin edges; then every external edge
//
// Thread Safety: Safe for concurrent use. Build shares no state between calls.
func Build(ctx context.Context, unit string, functions []facts.Function, opts ...BuildOption) (*BuildResult, error) {
	options := BuildOptions{Dedup: DedupCallExistence, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	ctx, span := tracer.Start(ctx, "graph.Build",
		trace.WithAttributes(
			attribute.String("afu.unit", unit),
			attribute.Int("afu.functions", len(functions)),
			attribute.String("afu.dedup_policy", string(options.Dedup)),
		),
	)
	defer span.End()

	start := time.Now()
	stats := BuildStats{Functions: len(functions)}

	// PARTITION
	accs := make(map[ContractKey]*contractAccumulator)
	for _, fn := range functions {
		k := ContractKeyOf(fn.Contract)
		if _, ok := accs[k]; !ok {
			accs[k] = newContractAccumulator(k, options.Dedup)
		}
	}
	stats.Contracts = len(accs)

	// COLLECT
	external := newCallSet(options.Dedup)
	for i, fn := range functions {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				span.SetStatus(codes.Error, "canceled")
				return nil, err
			}
		}

		acc := accs[ContractKeyOf(fn.Contract)]
		caller, err := ResolveFunction(unit, fn.Contract, fn.FullName, fn.SourceMapping)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "malformed line span")
			return nil, err
		}
		acc.addNode(caller)

		for _, callee := range fn.InternalCalls {
			switch callee.Kind {
			case facts.KindBuiltin:
				b := ResolveBuiltin(callee.FullName)
				acc.addNode(b)
				acc.calls.add(call{from: caller, to: b, typ: EdgeTypeSolidityCall})
			default:
				target, err := ResolveFunction(unit, fn.Contract, callee.FullName, callee.SourceMapping)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "malformed line span")
					return nil, fmt.Errorf("internal call from %s: %w", caller.ID, err)
				}
				acc.calls.add(call{from: caller, to: target, typ: EdgeTypeInternalCall})
			}
		}

		for _, hc := range fn.HighLevelCalls {
			if _, known := accs[ContractKeyOf(hc.Contract)]; !known {
				stats.DroppedExternalCalls++
				options.Logger.Debug("dropping call into unknown contract",
					slog.String("unit", unit),
					slog.String("caller", string(caller.ID)),
					slog.String("contract", hc.Contract.String()),
					slog.String("callee", hc.Callee.FullName),
				)
				continue
			}
			// Function and state-variable accessor callees resolve the same
			// way: a node on the target contract at the declared location.
			target, err := ResolveFunction(unit, hc.Contract, hc.Callee.FullName, hc.Callee.SourceMapping)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "malformed line span")
				return nil, fmt.Errorf("external call from %s: %w", caller.ID, err)
			}
			if hc.Callee.Kind == facts.KindVariable {
				accs[ContractKeyOf(hc.Contract)].addNode(target)
			}
			external.add(call{from: caller, to: target, typ: EdgeTypeExternalCall})
		}
	}

	// RENDER
	g := NewCallGraph(unit)
	keys := make([]ContractKey, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ID != keys[j].ID {
			return keys[i].ID < keys[j].ID
		}
		return keys[i].Name < keys[j].Name
	})

	for _, k := range keys {
		acc := accs[k]
		for _, n := range acc.nodes {
			if _, _, err := g.AddNode(n); err != nil {
				return nil, fmt.Errorf("rendering contract %s: %w", k.Name, err)
			}
		}
		if err := renderCalls(g, acc.calls.calls); err != nil {
			return nil, fmt.Errorf("rendering contract %s: %w", k.Name, err)
		}
		stats.CollapsedCalls += acc.calls.collapsed
	}
	if err := renderCalls(g, external.calls); err != nil {
		return nil, fmt.Errorf("rendering external calls: %w", err)
	}
	stats.CollapsedCalls += external.collapsed

	g.Freeze()

	byType := g.EdgeCountByType()
	stats.Nodes = g.NodeCount()
	stats.Edges = g.EdgeCount()
	stats.InternalCalls = byType[EdgeTypeInternalCall]
	stats.SolidityCalls = byType[EdgeTypeSolidityCall]
	stats.ExternalCalls = byType[EdgeTypeExternalCall]
	stats.DurationMicro = time.Since(start).Microseconds()

	span.SetAttributes(
		attribute.Int("afu.contracts", stats.Contracts),
		attribute.Int("afu.nodes", stats.Nodes),
		attribute.Int("afu.edges", stats.Edges),
		attribute.Int("afu.dropped_external_calls", stats.DroppedExternalCalls),
		attribute.Int("afu.collapsed_calls", stats.CollapsedCalls),
	)

	return &BuildResult{Graph: g, Stats: stats}, nil
}

// renderCalls adds each call's endpoints (if missing) and its edge.
func renderCalls(g *CallGraph, calls []call) error {
	for _, c := range calls {
		if _, _, err := g.AddNode(c.from); err != nil {
			return err
		}
		if _, _, err := g.AddNode(c.to); err != nil {
			return err
		}
		if err := g.AddEdge(c.from.ID, c.to.ID, c.typ); err != nil {
			return err
		}
	}
	return nil
}
