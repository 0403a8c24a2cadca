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
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestSnapshotStore creates a SnapshotStore with in-memory DB.
func newTestSnapshotStore(t *testing.T) *SnapshotStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewSnapshotStore(newTestDB(t), logger)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	return s
}

func TestNewSnapshotStore_NilArgs(t *testing.T) {
	if _, err := NewSnapshotStore(nil, slog.Default()); err == nil {
		t.Error("expected error for nil DB")
	}
	if _, err := NewSnapshotStore(newTestDB(t), nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()
	g := richGraph(t)

	meta, err := s.Save(ctx, g)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.SourceUnit != "u.sol" || meta.NodeCount != g.NodeCount() || meta.EdgeCount != g.EdgeCount() {
		t.Errorf("meta = %+v", meta)
	}
	if meta.EdgesByType[EdgeTypeSolidityCall] != 1 {
		t.Errorf("edges by type = %v", meta.EdgesByType)
	}
	if meta.ContentHash == "" || meta.GraphHash != g.Hash() {
		t.Error("hashes not recorded")
	}

	back, loaded, err := s.Load(ctx, "u.sol")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameGraph(t, g, back)
	if loaded.ContentHash != meta.ContentHash {
		t.Errorf("loaded content hash = %s, want %s", loaded.ContentHash, meta.ContentHash)
	}
}

func TestSnapshotStore_SaveRequiresFrozen(t *testing.T) {
	s := newTestSnapshotStore(t)
	if _, err := s.Save(context.Background(), NewCallGraph("u.sol")); err == nil {
		t.Error("expected error for unfrozen graph")
	}
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	s := newTestSnapshotStore(t)
	_, _, err := s.Load(context.Background(), "nope.sol")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotStore_ListAndDelete(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	for _, unit := range []string{"b.sol", "a.sol", "c.sol"} {
		res, err := Build(ctx, unit, []facts.Function{{Contract: contractA, FullName: "f()", SourceMapping: "1"}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Save(ctx, res.Graph); err != nil {
			t.Fatalf("Save %s: %v", unit, err)
		}
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].SourceUnit != "a.sol" || list[2].SourceUnit != "c.sol" {
		t.Errorf("list = %v", list)
	}

	limited, _ := s.List(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("limited = %d, want 2", len(limited))
	}

	if err := s.Delete(ctx, "b.sol"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, _ = s.List(ctx, 0)
	if len(list) != 2 {
		t.Errorf("after delete = %d, want 2", len(list))
	}
	if _, _, err := s.Load(ctx, "b.sol"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("deleted snapshot still loads: %v", err)
	}
}

func TestSnapshotStore_SaveReplaces(t *testing.T) {
	s := newTestSnapshotStore(t)
	ctx := context.Background()

	small := mustBuild(t, []facts.Function{{Contract: contractA, FullName: "f()", SourceMapping: "1"}}).Graph
	if _, err := s.Save(ctx, small); err != nil {
		t.Fatal(err)
	}
	big := richGraph(t)
	if _, err := s.Save(ctx, big); err != nil {
		t.Fatal(err)
	}

	back, _, err := s.Load(ctx, "u.sol")
	if err != nil {
		t.Fatal(err)
	}
	assertSameGraph(t, big, back)

	list, _ := s.List(ctx, 0)
	if len(list) != 1 {
		t.Errorf("list = %d, want 1", len(list))
	}
}

func TestOpenSnapshotStore(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenSnapshotStore(dir, nil)
	if err != nil {
		t.Fatalf("OpenSnapshotStore: %v", err)
	}
	if _, err := s.Save(context.Background(), richGraph(t)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSnapshotStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, _, err := s.Load(context.Background(), "u.sol"); err != nil {
		t.Errorf("Load after reopen: %v", err)
	}
}
