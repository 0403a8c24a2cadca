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
	"sort"
)

// Node change kinds reported by DiffGraphs.
const (
	ChangeSpan     = "span_changed"
	ChangeType     = "type_changed"
	ChangeLabel    = "label_changed"
	ChangeMetadata = "metadata_changed"
)

// GraphDiff contains the differences between two builds of a unit graph.
type GraphDiff struct {
	BaseHash   string `json:"base_hash"`
	TargetHash string `json:"target_hash"`

	// NodesAdded are node IDs present in target but not in base.
	NodesAdded []NodeID `json:"nodes_added"`

	// NodesRemoved are node IDs present in base but not in target.
	NodesRemoved []NodeID `json:"nodes_removed"`

	// NodesModified are nodes whose attributes differ.
	NodesModified []NodeDiff `json:"nodes_modified"`

	// EdgesAdded and EdgesRemoved count edges as a multiset, so a call
	// recorded twice under the call-sites policy counts twice.
	EdgesAdded   int `json:"edges_added"`
	EdgesRemoved int `json:"edges_removed"`

	// EdgeDeltaByType is target count minus base count per edge type.
	EdgeDeltaByType map[EdgeType]int `json:"edge_delta_by_type"`
}

// NodeDiff describes how one node changed.
type NodeDiff struct {
	ID         NodeID    `json:"id"`
	ChangeType string    `json:"change_type"`
	BaseSpan   *LineSpan `json:"base_span,omitempty"`
	TargetSpan *LineSpan `json:"target_span,omitempty"`
}

// Empty reports whether the graphs have identical content.
func (d *GraphDiff) Empty() bool {
	return len(d.NodesAdded) == 0 && len(d.NodesRemoved) == 0 &&
		len(d.NodesModified) == 0 && d.EdgesAdded == 0 && d.EdgesRemoved == 0
}

// DiffGraphs compares two graphs of the same unit.
//
// Description:
//
//	Nodes are matched by ID. Node lists are sorted by ID so the result is
//	deterministic. Edge order is ignored; only the edge multiset matters.
//
// Inputs:
//
//	base, target - The graphs to compare. Must not be nil.
//
// Outputs:
//
//	*GraphDiff - The differences.
//	error - Non-nil if either graph is nil.
//
// Complexity: O(V log V + E).
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func DiffGraphs(base, target *CallGraph) (*GraphDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &GraphDiff{
		BaseHash:        base.Hash(),
		TargetHash:      target.Hash(),
		NodesAdded:      []NodeID{},
		NodesRemoved:    []NodeID{},
		NodesModified:   []NodeDiff{},
		EdgeDeltaByType: make(map[EdgeType]int),
	}

	for id, tn := range target.nodes {
		bn, ok := base.nodes[id]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, id)
			continue
		}
		if !bn.Equal(tn) {
			diff.NodesModified = append(diff.NodesModified, NodeDiff{
				ID:         id,
				ChangeType: classifyChange(bn, tn),
				BaseSpan:   bn.clone().Span,
				TargetSpan: tn.clone().Span,
			})
		}
	}
	for id := range base.nodes {
		if _, ok := target.nodes[id]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, id)
		}
	}

	sort.Slice(diff.NodesAdded, func(i, j int) bool { return diff.NodesAdded[i] < diff.NodesAdded[j] })
	sort.Slice(diff.NodesRemoved, func(i, j int) bool { return diff.NodesRemoved[i] < diff.NodesRemoved[j] })
	sort.Slice(diff.NodesModified, func(i, j int) bool { return diff.NodesModified[i].ID < diff.NodesModified[j].ID })

	baseEdges := edgeCounts(base.edges)
	targetEdges := edgeCounts(target.edges)
	for k, tc := range targetEdges {
		if d := tc - baseEdges[k]; d > 0 {
			diff.EdgesAdded += d
		}
	}
	for k, bc := range baseEdges {
		if d := bc - targetEdges[k]; d > 0 {
			diff.EdgesRemoved += d
		}
	}

	bt, tt := base.EdgeCountByType(), target.EdgeCountByType()
	for _, typ := range EdgeTypes {
		if d := tt[typ] - bt[typ]; d != 0 {
			diff.EdgeDeltaByType[typ] = d
		}
	}
	return diff, nil
}

// classifyChange names the most significant difference between two nodes
// with the same ID.
func classifyChange(base, target Node) string {
	switch {
	case (base.Span == nil) != (target.Span == nil),
		base.Span != nil && *base.Span != *target.Span:
		return ChangeSpan
	case base.Type != target.Type:
		return ChangeType
	case base.Label != target.Label:
		return ChangeLabel
	default:
		return ChangeMetadata
	}
}

func edgeCounts(edges []Edge) map[EdgeKey]int {
	m := make(map[EdgeKey]int, len(edges))
	for _, e := range edges {
		m[e.Key()]++
	}
	return m
}
