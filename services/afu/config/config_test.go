// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "call_existence", cfg.Graph.DedupPolicy)
	assert.Equal(t, "anchored", cfg.Combine.MatchMode)
	assert.Equal(t, "truncate", cfg.Combine.OutputMode)
	assert.GreaterOrEqual(t, cfg.Pipeline.Workers, 1)
}

func TestLoadDir_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadDir_OverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	doc := `
paths:
  graph_dir: out/graphs
analyzer:
  enabled: true
  timeout: 90s
  default_solc_version: 0.5.17
combine:
  match_mode: loose
pipeline:
  workers: 3
discovery:
  exclude: ["**/test/**"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644))

	cfg, err := LoadDir(dir)
	require.NoError(t, err)

	assert.Equal(t, "out/graphs", cfg.Paths.GraphDir)
	assert.Equal(t, "output/AFU", cfg.Paths.AFUDir)
	assert.True(t, cfg.Analyzer.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Analyzer.Timeout)
	assert.Equal(t, "0.5.17", cfg.Analyzer.DefaultSolcVersion)
	assert.Equal(t, "slither-afu-facts", cfg.Analyzer.Command)
	assert.Equal(t, "loose", cfg.Combine.MatchMode)
	assert.Equal(t, "truncate", cfg.Combine.OutputMode)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, []string{"**/test/**"}, cfg.Discovery.Exclude)
}

func TestLoadDir_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("paths: [unclosed"), 0o644))

	_, err := LoadDir(dir)
	assert.Error(t, err)
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"dedup policy", "graph:\n  dedup_policy: sometimes\n"},
		{"match mode", "combine:\n  match_mode: fuzzy\n"},
		{"output mode", "combine:\n  output_mode: overwrite\n"},
		{"zero workers", "pipeline:\n  workers: 0\n"},
		{"negative timeout", "analyzer:\n  timeout: -1s\n"},
		{"bad solc version", "analyzer:\n  default_solc_version: latest\n"},
		{"empty graph dir", "paths:\n  graph_dir: \"\"\n"},
		{"enabled without command", "analyzer:\n  enabled: true\n  command: \"\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_MissingFileIsError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("neo4j:\n  clean: true\n  batch_size: 50\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Neo4j.Clean)
	assert.Equal(t, 50, cfg.Neo4j.BatchSize)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
}
