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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ArtifactSuffix is appended to the unit name to form the artifact file name.
const ArtifactSuffix = ".graph"

// artifactMagic opens every graph artifact.
var artifactMagic = []byte("AFUG")

// artifactFormat is the binary container version, independent of
// GraphSchemaVersion which versions the JSON payload.
const artifactFormat byte = 1

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codec returns the shared zstd encoder and decoder. EncodeAll and
// DecodeAll are safe for concurrent use.
func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// ArtifactName returns "<unit>.graph".
func ArtifactName(unit string) string {
	return unit + ArtifactSuffix
}

// ArtifactPath returns the artifact path of a unit under dir.
func ArtifactPath(dir, unit string) string {
	return filepath.Join(dir, ArtifactName(unit))
}

// UnitFromArtifactPath recovers the unit name from an artifact path.
func UnitFromArtifactPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ArtifactSuffix)
}

// Serialize encodes a graph into the binary artifact format.
//
// Description:
//
//	Layout: 4-byte magic "AFUG", 1-byte format version, then the
//	zstd-compressed JSON of ToSerializable().
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func Serialize(g *CallGraph) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	payload, err := json.Marshal(g.ToSerializable())
	if err != nil {
		return nil, fmt.Errorf("marshaling graph %s: %w", g.SourceUnit, err)
	}
	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("creating zstd codec: %w", err)
	}

	out := make([]byte, 0, len(artifactMagic)+1+len(payload)/4)
	out = append(out, artifactMagic...)
	out = append(out, artifactFormat)
	return enc.EncodeAll(payload, out), nil
}

// Deserialize decodes a binary artifact produced by Serialize.
//
// Outputs:
//
//	*CallGraph - The reconstructed, frozen graph.
//	error - Wraps ErrInvalidArtifact for a bad header, a corrupt payload,
//	        or content that fails FromSerializable.
func Deserialize(data []byte) (*CallGraph, error) {
	if len(data) < len(artifactMagic)+1 || !bytes.Equal(data[:len(artifactMagic)], artifactMagic) {
		return nil, fmt.Errorf("%w: bad header", ErrInvalidArtifact)
	}
	if v := data[len(artifactMagic)]; v != artifactFormat {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidArtifact, v)
	}
	_, dec, err := codec()
	if err != nil {
		return nil, fmt.Errorf("creating zstd codec: %w", err)
	}
	payload, err := dec.DecodeAll(data[len(artifactMagic)+1:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing: %v", ErrInvalidArtifact, err)
	}
	var sg SerializableGraph
	if err := json.Unmarshal(payload, &sg); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling: %v", ErrInvalidArtifact, err)
	}
	return FromSerializable(&sg)
}

// WriteArtifact serializes g to ArtifactPath(dir, g.SourceUnit).
//
// Description:
//
//	Writes to a hidden temp file in dir, syncs it and renames it into
//	place, so readers never observe a partially written artifact. The
//	directory is created if missing.
//
// Outputs:
//
//	string - The final artifact path.
//	error - Non-nil on serialization or I/O failure; no artifact is left
//	        behind in that case.
func WriteArtifact(dir string, g *CallGraph) (string, error) {
	data, err := Serialize(g)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}

	path := ArtifactPath(dir, g.SourceUnit)
	tmp, err := os.CreateTemp(dir, "."+ArtifactName(g.SourceUnit)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("syncing artifact %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("closing artifact %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("renaming artifact %s: %w", path, err)
	}
	return path, nil
}

// ReadArtifact loads and decodes the artifact at path.
func ReadArtifact(path string) (*CallGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", path, err)
	}
	g, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
