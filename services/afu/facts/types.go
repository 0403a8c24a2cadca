// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facts defines the function and call facts emitted by the external
// static analyzer for one smart-contract source unit.
//
// A fact document is produced once per source unit (one .sol file) and lists
// every function the analyzer saw, the contract that declares it, its source
// location string, and the calls it makes. The graph package consumes these
// facts; nothing in this package knows about graphs.
package facts

import "fmt"

// CalleeKind classifies a call target reported by the analyzer.
type CalleeKind string

const (
	// KindFunction is a user-defined contract function.
	KindFunction CalleeKind = "function"

	// KindBuiltin is a language-level function (require, keccak256, ...).
	KindBuiltin CalleeKind = "builtin"

	// KindVariable is a public state variable reached through its
	// compiler-generated accessor.
	KindVariable CalleeKind = "variable"
)

// Contract identifies a contract inside one source unit.
//
// ID is the analyzer's numeric contract id. Two contracts with the same name
// but different ids are different contracts.
type Contract struct {
	ID   int    `json:"id" validate:"gte=0"`
	Name string `json:"name" validate:"required"`
}

// String returns "Name#ID".
func (c Contract) String() string {
	return fmt.Sprintf("%s#%d", c.Name, c.ID)
}

// Callee is the target of an internal call, or the callee half of a
// high-level (cross-contract) call.
type Callee struct {
	// Kind is one of function, builtin, variable.
	Kind CalleeKind `json:"kind" validate:"required,oneof=function builtin variable"`

	// FullName is the fully-qualified name, e.g. "transfer(address,uint256)".
	FullName string `json:"full_name" validate:"required"`

	// SourceMapping is the location string ("10" or "10-12", optionally
	// prefixed by "path#"). Empty for builtins.
	SourceMapping string `json:"source_mapping,omitempty"`
}

// HighLevelCall is a call into another contract: (target contract, callee).
type HighLevelCall struct {
	Contract Contract `json:"contract" validate:"required"`
	Callee   Callee   `json:"callee" validate:"required"`
}

// Function is one analyzed function together with the calls it makes.
type Function struct {
	// Contract is the declaring contract.
	Contract Contract `json:"contract" validate:"required"`

	// FullName is the fully-qualified function name.
	FullName string `json:"full_name" validate:"required"`

	// CanonicalName is "Contract.fullName" as reported by the analyzer.
	// Used to collapse duplicate reports from different compilation units.
	// Derived from Contract and FullName when empty.
	CanonicalName string `json:"canonical_name,omitempty"`

	// SourceMapping is the declared location string of the function.
	SourceMapping string `json:"source_mapping"`

	// InternalCalls are calls resolved within the declaring contract's scope.
	InternalCalls []Callee `json:"internal_calls,omitempty" validate:"dive"`

	// HighLevelCalls are calls into other contracts.
	HighLevelCalls []HighLevelCall `json:"high_level_calls,omitempty" validate:"dive"`
}

// Canonical returns the canonical name, deriving it when the analyzer did
// not report one.
func (f Function) Canonical() string {
	if f.CanonicalName != "" {
		return f.CanonicalName
	}
	return f.Contract.Name + "." + f.FullName
}

// Unit is the complete fact document for one source unit.
type Unit struct {
	// SourceUnit is the source file name (e.g. "0xabc.sol"). It scopes node
	// identities and names every artifact derived from this unit.
	SourceUnit string `json:"source_unit" validate:"required"`

	// CompilerVersion is the solc version the analyzer ran with, if known.
	CompilerVersion string `json:"compiler_version,omitempty"`

	// Functions lists every analyzed function in the unit.
	Functions []Function `json:"functions" validate:"dive"`
}

// Dedup returns the unit's functions with duplicates removed by canonical
// name. The first report of each canonical name wins; order is preserved.
//
// The analyzer may report the same function once per compilation unit.
func (u *Unit) Dedup() []Function {
	seen := make(map[string]struct{}, len(u.Functions))
	out := make([]Function, 0, len(u.Functions))
	for _, fn := range u.Functions {
		key := fn.Canonical()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, fn)
	}
	return out
}
