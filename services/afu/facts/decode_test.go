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
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleDoc = `{
  "source_unit": "token.sol",
  "compiler_version": "0.4.25",
  "functions": [
    {
      "contract": {"id": 1, "name": "Token"},
      "full_name": "transfer(address,uint256)",
      "source_mapping": "token.sol#10-20",
      "internal_calls": [
        {"kind": "function", "full_name": "_move(address,uint256)", "source_mapping": "30-35"},
        {"kind": "builtin", "full_name": "require(bool)"}
      ],
      "high_level_calls": [
        {"contract": {"id": 2, "name": "Ledger"},
         "callee": {"kind": "variable", "full_name": "balances", "source_mapping": "3"}}
      ]
    }
  ]
}`

func TestDecodeBytes_Valid(t *testing.T) {
	u, err := DecodeBytes([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if u.SourceUnit != "token.sol" {
		t.Errorf("source unit = %q, want token.sol", u.SourceUnit)
	}
	if len(u.Functions) != 1 {
		t.Fatalf("functions = %d, want 1", len(u.Functions))
	}
	fn := u.Functions[0]
	if fn.Contract != (Contract{ID: 1, Name: "Token"}) {
		t.Errorf("contract = %v", fn.Contract)
	}
	if len(fn.InternalCalls) != 2 || fn.InternalCalls[1].Kind != KindBuiltin {
		t.Errorf("internal calls = %+v", fn.InternalCalls)
	}
	if len(fn.HighLevelCalls) != 1 || fn.HighLevelCalls[0].Callee.Kind != KindVariable {
		t.Errorf("high level calls = %+v", fn.HighLevelCalls)
	}
}

func TestDecodeBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "  "},
		{"not json", "{"},
		{"missing unit", `{"functions": []}`},
		{"missing function name", `{"source_unit": "a.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "source_mapping": "1"}]}`},
		{"bad callee kind", `{"source_unit": "a.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1",
			"internal_calls": [{"kind": "modifier", "full_name": "m()"}]}]}`},
		{"internal call to variable", `{"source_unit": "a.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1",
			"internal_calls": [{"kind": "variable", "full_name": "x"}]}]}`},
		{"unit escapes directory", `{"source_unit": "../../x.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1"}]}`},
		{"unit with separator", `{"source_unit": "contracts/a.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1"}]}`},
		{"unit with backslash", `{"source_unit": "contracts\\a.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1"}]}`},
		{"unit is dot dot", `{"source_unit": "..", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1"}]}`},
		{"high level call to builtin", `{"source_unit": "a.sol", "functions": [{"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "1",
			"high_level_calls": [{"contract": {"id": 2, "name": "B"}, "callee": {"kind": "builtin", "full_name": "require(bool)"}}]}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBytes([]byte(tc.doc))
			if !errors.Is(err, ErrInvalidFacts) {
				t.Errorf("err = %v, want ErrInvalidFacts", err)
			}
		})
	}
}

func TestUnit_Dedup(t *testing.T) {
	a := Contract{ID: 1, Name: "A"}
	u := &Unit{
		SourceUnit: "a.sol",
		Functions: []Function{
			{Contract: a, FullName: "f()", SourceMapping: "1-2"},
			{Contract: a, FullName: "g()", SourceMapping: "3-4"},
			{Contract: a, FullName: "f()", SourceMapping: "9-9"},
			{Contract: a, FullName: "h()", CanonicalName: "A.g()", SourceMapping: "5"},
		},
	}

	got := u.Dedup()
	if len(got) != 2 {
		t.Fatalf("dedup len = %d, want 2", len(got))
	}
	if got[0].SourceMapping != "1-2" {
		t.Errorf("first report should win, got %q", got[0].SourceMapping)
	}
	if got[1].FullName != "g()" {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.sol"+FileSuffix)
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	u, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if u.SourceUnit != "token.sol" {
		t.Errorf("source unit = %q", u.SourceUnit)
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.facts.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUnitNameFromPath(t *testing.T) {
	tests := map[string]string{
		"dir/a.sol.facts.json":  "a.sol",
		"a.sol.facts.json":      "a.sol",
		`c:\x\b.sol.facts.json`: "b.sol",
		"plain.json":            "plain.json",
	}
	for in, want := range tests {
		if got := UnitNameFromPath(in); got != want {
			t.Errorf("UnitNameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}
