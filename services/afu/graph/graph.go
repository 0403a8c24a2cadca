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
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"lukechampine.com/blake3"
)

// graphState is the lifecycle state of a CallGraph.
type graphState int

const (
	stateBuilding graphState = iota
	stateFrozen
)

// CallGraph is the call multigraph of one source unit.
//
// Description:
//
//	Nodes are unique by id and keep their first-inserted attributes. Edges
//	keep insertion order; the combiner emits AFU records in that order.
//	Parallel edges are allowed here. Call deduplication is a builder
//	policy, not a property of the container.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Safe for concurrent reads after Freeze.
type CallGraph struct {
	// SourceUnit is the unit this graph was built from.
	SourceUnit string

	// BuiltAtMilli is set by Freeze (Unix milliseconds UTC).
	BuiltAtMilli int64

	nodes     map[NodeID]Node
	nodeOrder []NodeID
	edges     []Edge
	state     graphState
}

// NewCallGraph creates an empty graph in building state.
func NewCallGraph(sourceUnit string) *CallGraph {
	return &CallGraph{
		SourceUnit: sourceUnit,
		nodes:      make(map[NodeID]Node),
	}
}

// AddNode inserts a node unless its id is already present.
//
// Description:
//
//	The first insertion of an id fixes its attributes. A later insertion
//	with the same id is a no-op and returns the stored node.
//
// Outputs:
//
//	Node - The stored node (a copy).
//	bool - True if the node was inserted by this call.
//	error - ErrGraphFrozen after Freeze; ErrInvalidNode for an empty id,
//	        an unknown type, an inverted span, or a builtin with a span.
func (g *CallGraph) AddNode(n Node) (Node, bool, error) {
	if g.state == stateFrozen {
		return Node{}, false, ErrGraphFrozen
	}
	if err := validateNode(n); err != nil {
		return Node{}, false, err
	}
	if existing, ok := g.nodes[n.ID]; ok {
		return existing.clone(), false, nil
	}
	n = n.clone()
	g.nodes[n.ID] = n
	g.nodeOrder = append(g.nodeOrder, n.ID)
	return n.clone(), true, nil
}

// AddEdge appends a directed edge. Both endpoints must already exist.
// The label is set to the edge type.
func (g *CallGraph) AddEdge(from, to NodeID, typ EdgeType) error {
	if g.state == stateFrozen {
		return ErrGraphFrozen
	}
	if !typ.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEdgeType, typ)
	}
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, to)
	}
	g.edges = append(g.edges, Edge{From: from, To: to, Type: typ, Label: string(typ)})
	return nil
}

// Freeze makes the graph read-only and stamps BuiltAtMilli. Calling it
// again has no effect.
func (g *CallGraph) Freeze() {
	if g.state == stateFrozen {
		return
	}
	g.state = stateFrozen
	g.BuiltAtMilli = time.Now().UnixMilli()
}

// IsFrozen reports whether Freeze has been called.
func (g *CallGraph) IsFrozen() bool {
	return g.state == stateFrozen
}

// Node returns the node with the given id.
func (g *CallGraph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Nodes returns all nodes in insertion order.
func (g *CallGraph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id].clone())
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *CallGraph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// NodeCount returns the number of nodes.
func (g *CallGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *CallGraph) EdgeCount() int {
	return len(g.edges)
}

// EdgeCountByType returns the edge multiset counted by type.
func (g *CallGraph) EdgeCountByType() map[EdgeType]int {
	counts := make(map[EdgeType]int, len(EdgeTypes))
	for _, e := range g.edges {
		counts[e.Type]++
	}
	return counts
}

// Hash returns a hex BLAKE3 digest of the graph content.
//
// Description:
//
//	Nodes are hashed in id order so the digest does not depend on node
//	insertion order. Edges are hashed in insertion order because the
//	combiner output depends on it. BuiltAtMilli is excluded.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *CallGraph) Hash() string {
	h := blake3.New(32, nil)
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(strconv.Itoa(len(p))))
			h.Write([]byte{':'})
			h.Write([]byte(p))
		}
		h.Write([]byte{'\n'})
	}

	write("unit", g.SourceUnit)

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := g.nodes[NodeID(id)]
		span := "-"
		if n.Span != nil {
			span = n.Span.String()
		}
		write("node", id, n.Label, string(n.Type), n.FunctionFullName, n.ContractName, n.SourceUnit, span)
	}
	for _, e := range g.edges {
		write("edge", string(e.From), string(e.To), string(e.Type), e.Label)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validateNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNode)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: %s: type %q", ErrInvalidNode, n.ID, n.Type)
	}
	if n.Span != nil && n.Span.Start > n.Span.End {
		return fmt.Errorf("%w: %s: span %s", ErrInvalidNode, n.ID, n.Span)
	}
	if isBuiltinID(n.ID) && n.Span != nil {
		return fmt.Errorf("%w: builtin %s carries a span", ErrInvalidNode, n.ID)
	}
	return nil
}

func isBuiltinID(id NodeID) bool {
	s := string(id)
	return len(s) > len(BuiltinNamespace) && s[:len(BuiltinNamespace)+1] == BuiltinNamespace+"_"
}
