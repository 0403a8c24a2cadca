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
	"fmt"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a CallGraph.
//
// Description:
//
//	Nodes and edges keep graph insertion order. Edge order is significant:
//	the combiner emits one AFU record per edge in this order. GraphHash
//	lets FromSerializable detect content that was altered after writing.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// SourceUnit is the unit the graph was built from.
	SourceUnit string `json:"source_unit"`

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph was frozen.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is CallGraph.Hash() at serialization time.
	GraphHash string `json:"graph_hash"`

	// Nodes contains all nodes in insertion order.
	Nodes []Node `json:"nodes"`

	// Edges contains all edges in insertion order.
	Edges []Edge `json:"edges"`
}

// ToSerializable converts a graph to its serializable representation.
//
// Outputs:
//
//	*SerializableGraph - Never nil. A nil graph yields an empty document.
//
// Complexity: O(V log V + E), dominated by hashing.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *CallGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []Node{},
			Edges:         []Edge{},
		}
	}
	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		SourceUnit:    g.SourceUnit,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Nodes:         g.Nodes(),
		Edges:         g.Edges(),
	}
}

// FromSerializable reconstructs a CallGraph from its serializable form.
//
// Description:
//
//	Replays AddNode and AddEdge in the recorded order so every invariant
//	of the building path is re-checked, then freezes the graph, restores
//	BuiltAtMilli and verifies the content hash.
//
// Outputs:
//
//	*CallGraph - The reconstructed, frozen graph.
//	error - Wraps ErrInvalidArtifact for an unsupported schema version, a
//	        duplicate node, an invalid node or edge, or a hash mismatch.
func FromSerializable(sg *SerializableGraph) (*CallGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("%w: serializable graph must not be nil", ErrInvalidArtifact)
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %q (expected %q)",
			ErrInvalidArtifact, sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewCallGraph(sg.SourceUnit)

	for i, n := range sg.Nodes {
		_, inserted, err := g.AddNode(n)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d (%s): %v", ErrInvalidArtifact, i, n.ID, err)
		}
		if !inserted {
			return nil, fmt.Errorf("%w: duplicate node %s", ErrInvalidArtifact, n.ID)
		}
	}

	for i, e := range sg.Edges {
		if e.Label != string(e.Type) {
			return nil, fmt.Errorf("%w: edge %d label %q does not match type %q", ErrInvalidArtifact, i, e.Label, e.Type)
		}
		if err := g.AddEdge(e.From, e.To, e.Type); err != nil {
			return nil, fmt.Errorf("%w: edge %d (%s -> %s): %v", ErrInvalidArtifact, i, e.From, e.To, err)
		}
	}

	g.Freeze()
	g.BuiltAtMilli = sg.BuiltAtMilli

	if sg.GraphHash != "" {
		if got := g.Hash(); got != sg.GraphHash {
			return nil, fmt.Errorf("%w: graph hash mismatch: recorded %s, computed %s", ErrInvalidArtifact, sg.GraphHash, got)
		}
	}
	return g, nil
}
