// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export loads call graphs into external graph databases.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// DefaultBatchSize bounds the rows sent per UNWIND statement.
const DefaultBatchSize = 500

// relTypes maps edge types to relationship types. Cypher cannot
// parameterize relationship types, so each gets its own statement.
var relTypes = map[graph.EdgeType]string{
	graph.EdgeTypeInternalCall: "INTERNAL_CALL",
	graph.EdgeTypeExternalCall: "EXTERNAL_CALL",
	graph.EdgeTypeSolidityCall: "SOLIDITY_CALL",
}

// cypherFunc executes one statement.
type cypherFunc func(ctx context.Context, cypher string, params map[string]any) error

// Neo4jOptions configures a Neo4jLoader.
type Neo4jOptions struct {
	URI       string
	User      string
	Password  string
	Database  string
	BatchSize int
	Logger    *slog.Logger
}

// ExportStats counts what was loaded.
type ExportStats struct {
	Units  int `json:"units"`
	Nodes  int `json:"nodes"`
	Edges  int `json:"edges"`
	Failed int `json:"failed"`

	// Failures lists the units that could not be read or loaded, in input
	// order.
	Failures []UnitFailure `json:"failures,omitempty"`
}

// UnitFailure records one artifact that was not exported.
type UnitFailure struct {
	Unit  string `json:"unit"`
	Path  string `json:"path"`
	Err   error  `json:"-"`
	Error string `json:"error"`
}

// Neo4jLoader loads call graphs into Neo4j using batched UNWIND/MERGE
// statements.
//
// Description:
//
//	Function nodes are labeled AFUFunction and keyed by node id, so
//	loading the same graph twice is idempotent. Builtin nodes are shared
//	across units. Every node is linked to its AFUUnit by IN_UNIT; builtins
//	are linked to every unit that calls them.
//
// Thread Safety: Safe for concurrent use; the driver pools sessions.
type Neo4jLoader struct {
	driver    neo4j.DriverWithContext
	run       cypherFunc
	batchSize int
	logger    *slog.Logger
}

// NewNeo4jLoader connects to Neo4j and verifies connectivity.
func NewNeo4jLoader(ctx context.Context, opts Neo4jOptions) (*Neo4jLoader, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", opts.URI, err)
	}

	var queryOpts []neo4j.ExecuteQueryConfigurationOption
	if opts.Database != "" {
		queryOpts = append(queryOpts, neo4j.ExecuteQueryWithDatabase(opts.Database))
	}
	run := func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, queryOpts...)
		return err
	}
	l := newLoader(run, opts.BatchSize, opts.Logger)
	l.driver = driver
	return l, nil
}

func newLoader(run cypherFunc, batchSize int, logger *slog.Logger) *Neo4jLoader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jLoader{run: run, batchSize: batchSize, logger: logger}
}

// Close releases the driver.
func (l *Neo4jLoader) Close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	return l.driver.Close(ctx)
}

// CleanGraph removes every previously loaded AFU node and relationship.
func (l *Neo4jLoader) CleanGraph(ctx context.Context) error {
	l.logger.Info("cleaning existing AFU graph data")
	queries := []string{
		"MATCH (n:AFUFunction) DETACH DELETE n",
		"MATCH (n:AFUUnit) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := l.run(ctx, q, nil); err != nil {
			return fmt.Errorf("cleaning graph: %w", err)
		}
	}
	return nil
}

// CreateIndexes ensures the lookup indexes exist.
func (l *Neo4jLoader) CreateIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX afu_function_id IF NOT EXISTS FOR (n:AFUFunction) ON (n.id)",
		"CREATE INDEX afu_unit_name IF NOT EXISTS FOR (n:AFUUnit) ON (n.name)",
	}
	for _, q := range indexes {
		if err := l.run(ctx, q, nil); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// LoadGraph upserts the unit, its nodes and its edges.
func (l *Neo4jLoader) LoadGraph(ctx context.Context, g *graph.CallGraph) (ExportStats, error) {
	if g == nil {
		return ExportStats{}, errors.New("graph must not be nil")
	}
	unit := g.SourceUnit

	if err := l.run(ctx,
		`MERGE (u:AFUUnit {name: $name})
		 SET u.graph_hash = $hash, u.built_at_milli = $built`,
		map[string]any{"name": unit, "hash": g.Hash(), "built": g.BuiltAtMilli},
	); err != nil {
		return ExportStats{}, fmt.Errorf("loading unit %s: %w", unit, err)
	}

	nodes := nodeRows(g)
	for _, batch := range chunk(nodes, l.batchSize) {
		if err := l.run(ctx,
			`UNWIND $batch AS row
			 MERGE (n:AFUFunction {id: row.id})
			 SET n.label = row.label, n.node_type = row.node_type,
			     n.function_fullname = row.function_fullname,
			     n.contract_name = row.contract_name, n.source_file = row.source_file,
			     n.span_start = row.span_start, n.span_end = row.span_end
			 WITH n
			 MATCH (u:AFUUnit {name: $unit})
			 MERGE (n)-[:IN_UNIT]->(u)`,
			map[string]any{"batch": batch, "unit": unit},
		); err != nil {
			return ExportStats{}, fmt.Errorf("loading nodes of %s: %w", unit, err)
		}
	}

	edges := 0
	for _, typ := range graph.EdgeTypes {
		rows := edgeRows(g, typ)
		for _, batch := range chunk(rows, l.batchSize) {
			cypher := fmt.Sprintf(
				`UNWIND $batch AS row
				 MATCH (a:AFUFunction {id: row.from}), (b:AFUFunction {id: row.to})
				 MERGE (a)-[r:%s {unit: $unit}]->(b)
				 SET r.label = row.label`, relTypes[typ])
			if err := l.run(ctx, cypher, map[string]any{"batch": batch, "unit": unit}); err != nil {
				return ExportStats{}, fmt.Errorf("loading %s edges of %s: %w", typ, unit, err)
			}
		}
		edges += len(rows)
	}

	l.logger.Debug("graph exported",
		slog.String("unit", unit),
		slog.Int("nodes", len(nodes)),
		slog.Int("edges", edges),
	)
	return ExportStats{Units: 1, Nodes: len(nodes), Edges: edges}, nil
}

// LoadArtifacts reads each graph artifact and loads it.
//
// Description:
//
//	A unit that fails to read or load is recorded in the returned stats
//	and the remaining artifacts are still exported.
//
// Outputs:
//
//	ExportStats - Totals over loaded units plus one UnitFailure per failed
//	              unit.
//	error - Non-nil only if ctx is canceled before every artifact was
//	        attempted.
func (l *Neo4jLoader) LoadArtifacts(ctx context.Context, paths []string) (ExportStats, error) {
	var total ExportStats
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		st, err := l.loadArtifact(ctx, p)
		if err != nil {
			unit := graph.UnitFromArtifactPath(p)
			total.Failed++
			total.Failures = append(total.Failures, UnitFailure{
				Unit:  unit,
				Path:  p,
				Err:   err,
				Error: err.Error(),
			})
			l.logger.Warn("unit export failed",
				slog.String("unit", unit),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		total.Units += st.Units
		total.Nodes += st.Nodes
		total.Edges += st.Edges
	}
	l.logger.Info("export finished",
		slog.Int("units", total.Units),
		slog.Int("nodes", total.Nodes),
		slog.Int("edges", total.Edges),
		slog.Int("failed", total.Failed),
	)
	return total, nil
}

func (l *Neo4jLoader) loadArtifact(ctx context.Context, path string) (ExportStats, error) {
	g, err := graph.ReadArtifact(path)
	if err != nil {
		return ExportStats{}, err
	}
	return l.LoadGraph(ctx, g)
}

// nodeRows renders the UNWIND rows of g's nodes, in insertion order.
func nodeRows(g *graph.CallGraph) []map[string]any {
	nodes := g.Nodes()
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		row := map[string]any{
			"id":                string(n.ID),
			"label":             n.Label,
			"node_type":         string(n.Type),
			"function_fullname": n.FunctionFullName,
			"contract_name":     n.ContractName,
			"source_file":       n.SourceUnit,
			"span_start":        nil,
			"span_end":          nil,
		}
		if n.Span != nil {
			row["span_start"] = int64(n.Span.Start)
			row["span_end"] = int64(n.Span.End)
		}
		rows = append(rows, row)
	}
	return rows
}

// edgeRows renders the UNWIND rows of g's edges of one type, in graph order.
func edgeRows(g *graph.CallGraph, typ graph.EdgeType) []map[string]any {
	var rows []map[string]any
	for _, e := range g.Edges() {
		if e.Type != typ {
			continue
		}
		rows = append(rows, map[string]any{
			"from":  string(e.From),
			"to":    string(e.To),
			"label": e.Label,
		})
	}
	return rows
}

func chunk(rows []map[string]any, size int) [][]map[string]any {
	var out [][]map[string]any
	for len(rows) > 0 {
		n := min(size, len(rows))
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	return out
}
