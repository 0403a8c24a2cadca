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
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
)

// BuiltinNamespace prefixes every builtin node id. The brackets keep it out
// of the user id space, which always starts with a source unit name.
const BuiltinNamespace = "[builtin]"

// ParseLineSpan parses a declared source-location string.
//
// Description:
//
//	Accepts "N" or "START-END", optionally prefixed by an analyzer file
//	reference "path#". A single number yields START=END=N.
//
// Outputs:
//
//	LineSpan - The parsed inclusive span.
//	error - Wraps ErrMalformedLineSpan when either bound is missing or not
//	        a non-negative integer, or when START > END.
//
// Thread Safety: Safe for concurrent use (stateless function).
func ParseLineSpan(location string) (LineSpan, error) {
	raw := location
	if i := strings.LastIndexByte(raw, '#'); i >= 0 {
		raw = raw[i+1:]
	}
	raw = strings.TrimSpace(raw)

	parts := strings.Split(raw, "-")
	if len(parts) > 2 {
		return LineSpan{}, fmt.Errorf("%w: %q", ErrMalformedLineSpan, location)
	}

	start, ok := parseLine(parts[0])
	if !ok {
		return LineSpan{}, fmt.Errorf("%w: %q", ErrMalformedLineSpan, location)
	}
	end := start
	if len(parts) == 2 {
		if end, ok = parseLine(parts[1]); !ok {
			return LineSpan{}, fmt.Errorf("%w: %q", ErrMalformedLineSpan, location)
		}
	}
	if start > end {
		return LineSpan{}, fmt.Errorf("%w: %q: start after end", ErrMalformedLineSpan, location)
	}
	return LineSpan{Start: start, End: end}, nil
}

// parseLine accepts only ASCII digits; signs and blanks are rejected.
func parseLine(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FunctionKey returns the identity key of a contract function.
func FunctionKey(unit string, c facts.Contract, fullName string) NodeKey {
	return NodeKey{
		SourceUnit:       unit,
		Contract:         ContractKeyOf(c),
		FunctionFullName: fullName,
	}
}

// BuiltinKey returns the identity key of a language builtin.
func BuiltinKey(fullName string) NodeKey {
	return NodeKey{FunctionFullName: fullName, Builtin: true}
}

// ResolveFunction derives the node record of a contract function.
//
// Description:
//
//	Computes the node id from (unit, contract id, contract name, full name),
//	parses the declared location into a line span and classifies the node.
//	The result depends only on the inputs.
//
// Inputs:
//
//	unit - Owning source unit name.
//	c - Declaring contract.
//	fullName - Fully-qualified function name.
//	location - Declared location string ("N" or "START-END").
//
// Outputs:
//
//	Node - The node record with a non-nil Span.
//	error - Wraps ErrMalformedLineSpan if location cannot be parsed.
func ResolveFunction(unit string, c facts.Contract, fullName, location string) (Node, error) {
	span, err := ParseLineSpan(location)
	if err != nil {
		return Node{}, fmt.Errorf("resolving %s.%s: %w", c.Name, fullName, err)
	}
	key := FunctionKey(unit, c, fullName)
	return Node{
		ID:               key.ID(),
		Label:            fmt.Sprintf("%s_%s_%s", unit, c.Name, fullName),
		Type:             classifyFunction(fullName),
		FunctionFullName: fullName,
		ContractName:     c.Name,
		SourceUnit:       unit,
		Span:             &span,
	}, nil
}

// ResolveBuiltin derives the node record of a language builtin. Builtins
// have no contract, no source unit and no line span.
func ResolveBuiltin(fullName string) Node {
	id := BuiltinKey(fullName).ID()
	return Node{
		ID:               id,
		Label:            string(id),
		Type:             NodeTypeFallbackFunction,
		FunctionFullName: fullName,
	}
}

// classifyFunction marks fallback functions; everything else is an
// ordinary contract function.
func classifyFunction(fullName string) NodeType {
	if strings.Contains(fullName, "fallback") {
		return NodeTypeFallbackFunction
	}
	return NodeTypeContractFunction
}
