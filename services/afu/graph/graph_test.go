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
	"errors"
	"testing"
)

func makeNode(id string, start, end int) Node {
	return Node{
		ID:               NodeID(id),
		Label:            id,
		Type:             NodeTypeContractFunction,
		FunctionFullName: id,
		ContractName:     "C",
		SourceUnit:       "u.sol",
		Span:             &LineSpan{Start: start, End: end},
	}
}

func TestCallGraph_AddNode_FirstInsertionWins(t *testing.T) {
	g := NewCallGraph("u.sol")

	first := makeNode("n", 1, 2)
	if _, inserted, err := g.AddNode(first); err != nil || !inserted {
		t.Fatalf("first AddNode: inserted=%v err=%v", inserted, err)
	}

	second := makeNode("n", 50, 60)
	second.Label = "other"
	stored, inserted, err := g.AddNode(second)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second insertion of the same id should be a no-op")
	}
	if !stored.Equal(first) {
		t.Errorf("stored node overwritten: %+v", stored)
	}
	if g.NodeCount() != 1 {
		t.Errorf("node count = %d, want 1", g.NodeCount())
	}
}

func TestCallGraph_AddNode_Invalid(t *testing.T) {
	g := NewCallGraph("u.sol")

	tests := map[string]Node{
		"empty id":        {Type: NodeTypeContractFunction},
		"bad type":        {ID: "x", Type: "method"},
		"inverted span":   {ID: "x", Type: NodeTypeContractFunction, Span: &LineSpan{Start: 9, End: 3}},
		"builtin w/ span": {ID: "[builtin]_f()", Type: NodeTypeFallbackFunction, Span: &LineSpan{Start: 1, End: 1}},
	}
	for name, n := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := g.AddNode(n); !errors.Is(err, ErrInvalidNode) {
				t.Errorf("err = %v, want ErrInvalidNode", err)
			}
		})
	}
}

func TestCallGraph_AddEdge(t *testing.T) {
	g := NewCallGraph("u.sol")
	g.AddNode(makeNode("a", 1, 1))
	g.AddNode(makeNode("b", 2, 2))

	if err := g.AddEdge("a", "b", EdgeTypeInternalCall); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge("a", "missing", EdgeTypeInternalCall); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("missing target err = %v", err)
	}
	if err := g.AddEdge("a", "b", "calls"); !errors.Is(err, ErrInvalidEdgeType) {
		t.Errorf("bad type err = %v", err)
	}

	edges := g.Edges()
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	if edges[0].Label != string(EdgeTypeInternalCall) {
		t.Errorf("label = %q, want it to mirror the type", edges[0].Label)
	}
}

func TestCallGraph_Frozen(t *testing.T) {
	g := NewCallGraph("u.sol")
	g.AddNode(makeNode("a", 1, 1))
	g.Freeze()

	if !g.IsFrozen() {
		t.Fatal("IsFrozen = false after Freeze")
	}
	if g.BuiltAtMilli == 0 {
		t.Error("BuiltAtMilli not set")
	}
	if _, _, err := g.AddNode(makeNode("b", 1, 1)); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddNode err = %v, want ErrGraphFrozen", err)
	}
	if err := g.AddEdge("a", "a", EdgeTypeInternalCall); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddEdge err = %v, want ErrGraphFrozen", err)
	}
}

func TestCallGraph_NodesAreCopies(t *testing.T) {
	g := NewCallGraph("u.sol")
	g.AddNode(makeNode("a", 1, 1))

	nodes := g.Nodes()
	nodes[0].Span.Start = 99

	n, _ := g.Node("a")
	if n.Span.Start != 1 {
		t.Error("mutating a returned node changed the graph")
	}
}

func TestCallGraph_Hash(t *testing.T) {
	build := func(order []string) *CallGraph {
		g := NewCallGraph("u.sol")
		for i, id := range order {
			g.AddNode(makeNode(id, i+1, i+1))
		}
		return g
	}

	g1 := NewCallGraph("u.sol")
	g1.AddNode(makeNode("a", 1, 1))
	g1.AddNode(makeNode("b", 2, 2))
	g2 := NewCallGraph("u.sol")
	g2.AddNode(makeNode("b", 2, 2))
	g2.AddNode(makeNode("a", 1, 1))
	if g1.Hash() != g2.Hash() {
		t.Error("hash depends on node insertion order")
	}

	g1.AddEdge("a", "b", EdgeTypeInternalCall)
	if g1.Hash() == g2.Hash() {
		t.Error("hash ignores edges")
	}

	if build([]string{"a"}).Hash() == build([]string{"b"}).Hash() {
		t.Error("different nodes share a hash")
	}
}

func TestCallGraph_EdgeCountByType(t *testing.T) {
	g := NewCallGraph("u.sol")
	g.AddNode(makeNode("a", 1, 1))
	g.AddNode(makeNode("b", 2, 2))
	g.AddNode(ResolveBuiltin("require(bool)"))
	g.AddEdge("a", "b", EdgeTypeInternalCall)
	g.AddEdge("a", "b", EdgeTypeInternalCall)
	g.AddEdge("a", "[builtin]_require(bool)", EdgeTypeSolidityCall)

	got := g.EdgeCountByType()
	if got[EdgeTypeInternalCall] != 2 || got[EdgeTypeSolidityCall] != 1 || got[EdgeTypeExternalCall] != 0 {
		t.Errorf("counts = %v", got)
	}
}
