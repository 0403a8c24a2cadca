// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FileSuffix is the file name suffix of fact documents on disk.
const FileSuffix = ".facts.json"

// ErrInvalidFacts is returned when a fact document cannot be decoded or
// fails validation.
var ErrInvalidFacts = errors.New("invalid facts document")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode reads and validates one fact document.
//
// Description:
//
//	Decodes JSON from r, then validates required fields and callee kinds.
//	Internal calls may only target functions or builtins; high-level calls
//	may only target functions or state variables.
//
// Outputs:
//
//	*Unit - The decoded unit. Nil on error.
//	error - Wraps ErrInvalidFacts on decode or validation failure.
func Decode(r io.Reader) (*Unit, error) {
	var u Unit
	dec := json.NewDecoder(r)
	if err := dec.Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrInvalidFacts, err)
	}
	if err := Validate(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(data []byte) (*Unit, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidFacts)
	}
	return Decode(bytes.NewReader(data))
}

// ReadFile decodes the fact document at path.
func ReadFile(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading facts %s: %w", path, err)
	}
	u, err := DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return u, nil
}

// Validate checks struct constraints and call-kind placement.
func Validate(u *Unit) error {
	if u == nil {
		return fmt.Errorf("%w: nil unit", ErrInvalidFacts)
	}
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFacts, err)
	}
	if err := validateUnitName(u.SourceUnit); err != nil {
		return err
	}
	for _, fn := range u.Functions {
		for _, c := range fn.InternalCalls {
			if c.Kind == KindVariable {
				return fmt.Errorf("%w: %s: internal call to variable %q", ErrInvalidFacts, fn.Canonical(), c.FullName)
			}
		}
		for _, hc := range fn.HighLevelCalls {
			if hc.Callee.Kind == KindBuiltin {
				return fmt.Errorf("%w: %s: high-level call to builtin %q", ErrInvalidFacts, fn.Canonical(), hc.Callee.FullName)
			}
		}
	}
	return nil
}

// validateUnitName requires a plain file name; the unit names its artifacts.
func validateUnitName(name string) error {
	if name == "." || strings.ContainsAny(name, "/\\\x00") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: source_unit %q must be a plain file name", ErrInvalidFacts, name)
	}
	return nil
}

// UnitNameFromPath derives a source unit name from a fact file path by
// stripping the directory and the facts suffix ("dir/a.sol.facts.json" -> "a.sol").
func UnitNameFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, FileSuffix)
}
