// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads afu.config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by LoadDir.
const FileName = "afu.config.yaml"

// Config is the complete AFU pipeline configuration.
//
// Description:
//
//	Every field has a default (see Default). A config file only needs the
//	fields it overrides.
//
// Thread Safety: Safe for concurrent reads after construction.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Graph     GraphConfig     `yaml:"graph"`
	Combine   CombineConfig   `yaml:"combine"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Store     StoreConfig     `yaml:"store"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
}

// PathsConfig locates inputs and outputs.
type PathsConfig struct {
	// FactsDir holds "<unit>.facts.json" documents.
	FactsDir string `yaml:"facts_dir"`

	// SourcesDir holds ".sol" sources fed to the analyzer when it is enabled.
	SourcesDir string `yaml:"sources_dir"`

	// GraphDir receives "<unit>.graph" artifacts.
	GraphDir string `yaml:"graph_dir" validate:"required"`

	// CompanionDir holds normalized, line-numbered companion text.
	CompanionDir string `yaml:"companion_dir" validate:"required"`

	// AFUDir receives "<graph artifact>_ast.txt" artifacts.
	AFUDir string `yaml:"afu_dir" validate:"required"`
}

// DiscoveryConfig filters discovered inputs with doublestar globs matched
// against paths relative to the scanned directory.
type DiscoveryConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// AnalyzerConfig configures the external analyzer.
type AnalyzerConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Command            string        `yaml:"command" validate:"required_if=Enabled true"`
	Args               []string      `yaml:"args"`
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	SolcSelect         bool          `yaml:"solc_select"`
	DefaultSolcVersion string        `yaml:"default_solc_version" validate:"omitempty,semver"`
	LaunchesPerSecond  float64       `yaml:"launches_per_second" validate:"gte=0"`
}

// GraphConfig configures graph construction.
type GraphConfig struct {
	DedupPolicy string `yaml:"dedup_policy" validate:"oneof=call_existence call_sites"`
}

// CombineConfig configures the AFU combiner.
type CombineConfig struct {
	MatchMode       string `yaml:"match_mode" validate:"oneof=anchored loose"`
	OutputMode      string `yaml:"output_mode" validate:"oneof=truncate append"`
	CompanionSuffix string `yaml:"companion_suffix" validate:"required"`
}

// PipelineConfig configures batch execution.
type PipelineConfig struct {
	// Workers is the number of units processed concurrently.
	Workers int `yaml:"workers" validate:"gte=1,lte=512"`

	// ProgressEvery logs progress after this many units. 0 disables it.
	ProgressEvery int `yaml:"progress_every" validate:"gte=0"`
}

// StoreConfig configures the graph snapshot index.
type StoreConfig struct {
	// BadgerPath enables the snapshot index when non-empty.
	BadgerPath string `yaml:"badger_path"`
}

// Neo4jConfig configures the optional Neo4j export.
type Neo4jConfig struct {
	URI       string `yaml:"uri" validate:"omitempty,uri"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Clean     bool   `yaml:"clean"`
	BatchSize int    `yaml:"batch_size" validate:"gte=1"`
}

// Default returns the built-in configuration rooted at the working directory.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			FactsDir:     "output/facts",
			SourcesDir:   "dataset",
			GraphDir:     "output/cg",
			CompanionDir: "output/norm",
			AFUDir:       "output/AFU",
		},
		Analyzer: AnalyzerConfig{
			Command:            "slither-afu-facts",
			Args:               []string{"--solc-version", "{solc_version}", "{source}"},
			Timeout:            5 * time.Minute,
			DefaultSolcVersion: "0.4.25",
		},
		Graph: GraphConfig{
			DedupPolicy: "call_existence",
		},
		Combine: CombineConfig{
			MatchMode:       "anchored",
			OutputMode:      "truncate",
			CompanionSuffix: "parse_result_normalized",
		},
		Pipeline: PipelineConfig{
			Workers:       runtime.NumCPU(),
			ProgressEvery: 100,
		},
		Neo4j: Neo4jConfig{
			URI:       "bolt://localhost:7687",
			User:      "neo4j",
			Database:  "neo4j",
			BatchSize: 500,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q (value %v)",
				verrs[0].Namespace(), verrs[0].Tag(), verrs[0].Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads the config at path. A missing file is an error.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDir reads afu.config.yaml from dir.
//
// Description:
//
//	A missing file is not an error: the defaults are returned, so the
//	pipeline runs without configuration. An unreadable or invalid file
//	is an error.
//
// Thread Safety: Safe for concurrent use (stateless function).
func LoadDir(dir string) (Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("reading %s: %w", FileName, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
