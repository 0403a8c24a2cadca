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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
)

// assertSameGraph checks node set, attributes and ordered edges.
func assertSameGraph(t *testing.T, want, got *CallGraph) {
	t.Helper()
	if !sameGraph(want, got) {
		t.Errorf("graphs differ:\nwant nodes=%v edges=%v\ngot  nodes=%v edges=%v",
			want.Nodes(), want.Edges(), got.Nodes(), got.Edges())
	}
}

func sameGraph(a, b *CallGraph) bool {
	if a.SourceUnit != b.SourceUnit || a.NodeCount() != b.NodeCount() || a.EdgeCount() != b.EdgeCount() {
		return false
	}
	for _, n := range a.Nodes() {
		m, ok := b.Node(n.ID)
		if !ok || !n.Equal(m) {
			return false
		}
	}
	ea, eb := a.Edges(), b.Edges()
	for i := range ea {
		if ea[i] != eb[i] {
			return false
		}
	}
	ca, cb := a.EdgeCountByType(), b.EdgeCountByType()
	for _, typ := range EdgeTypes {
		if ca[typ] != cb[typ] {
			return false
		}
	}
	return true
}

func richGraph(t *testing.T) *CallGraph {
	t.Helper()
	fns := twoContractFacts()
	fns[0].InternalCalls = append(fns[0].InternalCalls, facts.Callee{Kind: facts.KindBuiltin, FullName: "require(bool)"})
	return mustBuild(t, fns).Graph
}

func TestToSerializable_NilGraph(t *testing.T) {
	var g *CallGraph
	sg := g.ToSerializable()
	if sg.SchemaVersion != GraphSchemaVersion {
		t.Errorf("schema version = %q", sg.SchemaVersion)
	}
	if len(sg.Nodes) != 0 || len(sg.Edges) != 0 {
		t.Error("nil graph should serialize empty")
	}
}

func TestFromSerializable_RoundTrip(t *testing.T) {
	g := richGraph(t)
	back, err := FromSerializable(g.ToSerializable())
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}
	assertSameGraph(t, g, back)
	if back.BuiltAtMilli != g.BuiltAtMilli {
		t.Errorf("BuiltAtMilli = %d, want %d", back.BuiltAtMilli, g.BuiltAtMilli)
	}
	if !back.IsFrozen() {
		t.Error("restored graph should be frozen")
	}
}

func TestFromSerializable_Rejects(t *testing.T) {
	g := richGraph(t)

	tests := map[string]func(sg *SerializableGraph){
		"schema version": func(sg *SerializableGraph) { sg.SchemaVersion = "0.9" },
		"hash mismatch":  func(sg *SerializableGraph) { sg.Nodes[0].Label = "tampered" },
		"duplicate node": func(sg *SerializableGraph) { sg.Nodes = append(sg.Nodes, sg.Nodes[0]) },
		"dangling edge":  func(sg *SerializableGraph) { sg.Edges[0].To = "nope" },
		"label mismatch": func(sg *SerializableGraph) { sg.Edges[0].Label = "calls" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			sg := g.ToSerializable()
			mutate(sg)
			if _, err := FromSerializable(sg); !errors.Is(err, ErrInvalidArtifact) {
				t.Errorf("err = %v, want ErrInvalidArtifact", err)
			}
		})
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	g := richGraph(t)
	data, err := Serialize(g)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if string(data[:4]) != "AFUG" {
		t.Errorf("magic = %q", data[:4])
	}
	back, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	assertSameGraph(t, g, back)
}

func TestDeserialize_Corrupt(t *testing.T) {
	g := richGraph(t)
	data, _ := Serialize(g)

	wrongVersion := append([]byte{}, data...)
	wrongVersion[4] = 99

	truncated := data[:len(data)/2]

	for name, in := range map[string][]byte{
		"empty":         nil,
		"bad magic":     []byte("NOPE\x01rest"),
		"wrong version": wrongVersion,
		"truncated":     truncated,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Deserialize(in); !errors.Is(err, ErrInvalidArtifact) {
				t.Errorf("err = %v, want ErrInvalidArtifact", err)
			}
		})
	}
}

func TestWriteArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "graphs")
	g := richGraph(t)

	path, err := WriteArtifact(dir, g)
	if err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if path != filepath.Join(dir, "u.sol.graph") {
		t.Errorf("path = %q", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	back, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	assertSameGraph(t, g, back)

	// Rewriting replaces the artifact in place.
	if _, err := WriteArtifact(dir, g); err != nil {
		t.Fatalf("second WriteArtifact: %v", err)
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestReadArtifact_Missing(t *testing.T) {
	_, err := ReadArtifact(filepath.Join(t.TempDir(), "missing.graph"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestArtifactNames(t *testing.T) {
	if got := ArtifactName("0xabc.sol"); got != "0xabc.sol.graph" {
		t.Errorf("ArtifactName = %q", got)
	}
	if got := UnitFromArtifactPath("/x/y/0xabc.sol.graph"); got != "0xabc.sol" {
		t.Errorf("UnitFromArtifactPath = %q", got)
	}
}
