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

	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
)

// NodeID is the stable identity of a graph node.
type NodeID string

// NodeType classifies a node.
type NodeType string

const (
	// NodeTypeContractFunction is an ordinary contract function.
	NodeTypeContractFunction NodeType = "contract_function"

	// NodeTypeFallbackFunction is a fallback function. Builtin nodes use
	// this type as well.
	NodeTypeFallbackFunction NodeType = "fallback_function"
)

// IsValid reports whether t is a known node type.
func (t NodeType) IsValid() bool {
	return t == NodeTypeContractFunction || t == NodeTypeFallbackFunction
}

// EdgeType classifies a call edge. The edge label always mirrors its type.
type EdgeType string

const (
	// EdgeTypeInternalCall is a call to a function in the caller's contract scope.
	EdgeTypeInternalCall EdgeType = "internal_call"

	// EdgeTypeExternalCall is a call into another known contract of the unit.
	EdgeTypeExternalCall EdgeType = "external_call"

	// EdgeTypeSolidityCall is a call to a language builtin.
	EdgeTypeSolidityCall EdgeType = "solidity_call"
)

// EdgeTypes lists every edge type in a stable order.
var EdgeTypes = []EdgeType{EdgeTypeInternalCall, EdgeTypeExternalCall, EdgeTypeSolidityCall}

// IsValid reports whether t is a known edge type.
func (t EdgeType) IsValid() bool {
	switch t {
	case EdgeTypeInternalCall, EdgeTypeExternalCall, EdgeTypeSolidityCall:
		return true
	default:
		return false
	}
}

// LineSpan is an inclusive source-line range. Start <= End always holds for
// spans produced by ParseLineSpan.
type LineSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether line n lies within the span.
func (s LineSpan) Contains(n int) bool {
	return n >= s.Start && n <= s.End
}

// Len returns the number of lines covered.
func (s LineSpan) Len() int {
	return s.End - s.Start + 1
}

// String returns "start-end".
func (s LineSpan) String() string {
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// ContractKey identifies a contract within one source unit. Contracts are
// equal when both id and name are equal.
type ContractKey struct {
	ID   int
	Name string
}

// ContractKeyOf returns the key of an analyzer contract.
func ContractKeyOf(c facts.Contract) ContractKey {
	return ContractKey{ID: c.ID, Name: c.Name}
}

// NodeKey is the structural identity of a node before it is rendered to a
// NodeID. Two keys are equal iff all fields are equal, and equal keys always
// render to the same NodeID.
type NodeKey struct {
	SourceUnit       string
	Contract         ContractKey
	FunctionFullName string
	Builtin          bool
}

// ID renders the key to its NodeID.
//
// User functions render to "<unit>_<contractID>_<contractName>_<fullname>";
// builtins render to "[builtin]_<fullname>" and ignore the other fields.
func (k NodeKey) ID() NodeID {
	if k.Builtin {
		return NodeID(BuiltinNamespace + "_" + k.FunctionFullName)
	}
	return NodeID(fmt.Sprintf("%s_%d_%s_%s", k.SourceUnit, k.Contract.ID, k.Contract.Name, k.FunctionFullName))
}

// Node is one vertex of a call graph.
//
// Nodes are values; CallGraph hands out copies. Span is nil for builtins.
type Node struct {
	ID               NodeID    `json:"id"`
	Label            string    `json:"label"`
	Type             NodeType  `json:"node_type"`
	FunctionFullName string    `json:"function_fullname"`
	ContractName     string    `json:"contract_name,omitempty"`
	SourceUnit       string    `json:"source_file,omitempty"`
	Span             *LineSpan `json:"node_source_code_lines,omitempty"`
}

// IsBuiltin reports whether the node is a language builtin.
func (n Node) IsBuiltin() bool {
	return n.ContractName == "" && n.SourceUnit == "" && n.Span == nil
}

// Equal reports whether n and o carry identical attributes.
func (n Node) Equal(o Node) bool {
	if n.ID != o.ID || n.Label != o.Label || n.Type != o.Type ||
		n.FunctionFullName != o.FunctionFullName || n.ContractName != o.ContractName ||
		n.SourceUnit != o.SourceUnit {
		return false
	}
	if (n.Span == nil) != (o.Span == nil) {
		return false
	}
	return n.Span == nil || *n.Span == *o.Span
}

// clone returns a copy that does not share the span pointer.
func (n Node) clone() Node {
	if n.Span != nil {
		s := *n.Span
		n.Span = &s
	}
	return n
}

// Edge is one directed call relationship.
type Edge struct {
	From  NodeID   `json:"from"`
	To    NodeID   `json:"to"`
	Type  EdgeType `json:"edge_type"`
	Label string   `json:"label"`
}

// Key returns the structural identity used for call deduplication.
func (e Edge) Key() EdgeKey {
	return EdgeKey{From: e.From, To: e.To, Type: e.Type, Label: e.Label}
}

// EdgeKey is the structural identity of a call: (source, target, type, label).
type EdgeKey struct {
	From  NodeID
	To    NodeID
	Type  EdgeType
	Label string
}
