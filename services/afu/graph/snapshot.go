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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"lukechampine.com/blake3"
)

// BadgerDB key layout for unit graph snapshots.
const (
	keyPrefixGraph = "afu:graph:"
	keySuffixData  = ":data"
	keySuffixMeta  = ":meta"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a unit.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata describes one stored unit graph.
type SnapshotMetadata struct {
	// SourceUnit is the unit name and the snapshot key.
	SourceUnit string `json:"source_unit"`

	// GraphHash is CallGraph.Hash() of the stored graph.
	GraphHash string `json:"graph_hash"`

	// BuiltAtMilli is when the graph was frozen.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	NodeCount   int              `json:"node_count"`
	EdgeCount   int              `json:"edge_count"`
	EdgesByType map[EdgeType]int `json:"edges_by_type"`

	// SchemaVersion is the serialization schema version.
	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the stored artifact bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the BLAKE3 hash of the stored artifact bytes.
	ContentHash string `json:"content_hash"`
}

// SnapshotStore indexes built unit graphs in BadgerDB.
//
// Description:
//
//	Each unit has at most one snapshot; saving a unit again replaces it.
//	The stored value is the same binary artifact WriteArtifact produces,
//	so the store and the artifact directory never disagree on format.
//
// Key Schema:
//
//	afu:graph:{unit}:data → Serialize(graph)
//	afu:graph:{unit}:meta → JSON(SnapshotMetadata)
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotStore struct {
	db     *badger.DB
	logger *slog.Logger
	ownsDB bool
}

// NewSnapshotStore wraps an opened BadgerDB. The caller keeps ownership of db.
func NewSnapshotStore(db *badger.DB, logger *slog.Logger) (*SnapshotStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

// OpenSnapshotStore opens (or creates) a BadgerDB at path and wraps it.
// Close releases the database.
func OpenSnapshotStore(path string, logger *slog.Logger) (*SnapshotStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot store path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store %s: %w", path, err)
	}
	return &SnapshotStore{db: db, logger: logger, ownsDB: true}, nil
}

// Close closes the database if the store opened it.
func (s *SnapshotStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Save stores g under its source unit, replacing any earlier snapshot.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	g - The graph to store. Must be frozen.
//
// Outputs:
//
//	*SnapshotMetadata - Metadata of the stored snapshot.
//	error - Non-nil if g is not frozen, or serialization or storage fails.
func (s *SnapshotStore) Save(ctx context.Context, g *CallGraph) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if !g.IsFrozen() {
		return nil, fmt.Errorf("graph %s must be frozen before saving", g.SourceUnit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := Serialize(g)
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		SourceUnit:     g.SourceUnit,
		GraphHash:      g.Hash(),
		BuiltAtMilli:   g.BuiltAtMilli,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		EdgesByType:    g.EdgeCountByType(),
		SchemaVersion:  GraphSchemaVersion,
		CompressedSize: int64(len(data)),
		ContentHash:    hashBytes(data),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(g.SourceUnit), data); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(g.SourceUnit), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot %s to badger: %w", g.SourceUnit, err)
	}

	s.logger.Debug("snapshot saved",
		slog.String("unit", g.SourceUnit),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("edge_count", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves the snapshot of a unit and verifies its content hash.
//
// Outputs:
//
//	*CallGraph - The reconstructed, frozen graph.
//	*SnapshotMetadata - The stored metadata.
//	error - Wraps ErrSnapshotNotFound when the unit has no snapshot, or
//	        ErrInvalidArtifact when the stored bytes fail verification.
func (s *SnapshotStore) Load(ctx context.Context, unit string) (*CallGraph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if unit == "" {
		return nil, nil, fmt.Errorf("unit must not be empty")
	}

	var data, metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(unit))
		if err != nil {
			return err
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(metaKey(unit))
		if err != nil {
			return err
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, unit)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading snapshot %s: %w", unit, err)
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", unit, err)
	}
	if meta.ContentHash != "" && meta.ContentHash != hashBytes(data) {
		return nil, nil, fmt.Errorf("%w: integrity check failed for %s", ErrInvalidArtifact, unit)
	}

	g, err := Deserialize(data)
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", unit, err)
	}
	return g, &meta, nil
}

// List returns snapshot metadata ordered by unit name.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	limit - Maximum number of results. If <= 0, all snapshots are returned.
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	var results []*SnapshotMetadata
	prefix := []byte(keyPrefixGraph)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}

			var meta SnapshotMetadata
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			})
			if err != nil {
				s.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].SourceUnit < results[j].SourceUnit
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes the snapshot of a unit. Deleting a missing unit is not an error.
func (s *SnapshotStore) Delete(ctx context.Context, unit string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if unit == "" {
		return fmt.Errorf("unit must not be empty")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(dataKey(unit)); err != nil {
			return fmt.Errorf("deleting data: %w", err)
		}
		if err := txn.Delete(metaKey(unit)); err != nil {
			return fmt.Errorf("deleting metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", unit, err)
	}
	s.logger.Info("snapshot deleted", slog.String("unit", unit))
	return nil
}

func dataKey(unit string) []byte {
	return []byte(keyPrefixGraph + unit + keySuffixData)
}

func metaKey(unit string) []byte {
	return []byte(keyPrefixGraph + unit + keySuffixMeta)
}

// hashBytes returns the hex-encoded BLAKE3 hash of a byte slice.
func hashBytes(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
