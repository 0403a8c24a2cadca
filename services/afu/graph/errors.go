// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds, stores and restores per-unit smart-contract call graphs.
//
// A CallGraph is a directed multigraph whose nodes are contract functions or
// language builtins and whose edges are call relationships. One graph is built
// per source unit from the analyzer's function facts.
//
// # Identity
//
// Node identity is a pure function of (source unit, contract id, contract
// name, function full name). Builtins live in a separate "[builtin]_" id
// space. The first insertion of an id fixes its attributes; later insertions
// of the same id are ignored.
//
// # Thread Safety
//
// CallGraph is NOT safe for concurrent use while building. After Freeze() it
// is read-only and may be shared between goroutines.
//
// # Lifecycle
//
//  1. Build(ctx, unit, functions) collects nodes and calls per contract
//  2. The collected calls are rendered into a new CallGraph, then frozen
//  3. WriteArtifact persists it as <unit>.graph
//  4. ReadArtifact restores an identical, frozen graph
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrMalformedLineSpan is returned when a function's source location
	// string holds no parseable line numbers. Fatal to the enclosing unit.
	ErrMalformedLineSpan = errors.New("malformed line span")

	// ErrGraphFrozen is returned when mutating a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge references a node that is
	// not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidNode is returned for a node with an empty id, an invalid
	// type, or a builtin that carries a line span.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdgeType is returned for an edge type outside
	// internal_call, external_call, solidity_call.
	ErrInvalidEdgeType = errors.New("invalid edge type")

	// ErrInvalidArtifact is returned when a graph artifact has a bad
	// header, an unsupported version, or content that does not match
	// its recorded hash.
	ErrInvalidArtifact = errors.New("invalid graph artifact")
)
