// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package combine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// DefaultCompanionSuffix is appended to the unit stem to name its
// normalized text artifact ("0xabc.sol" -> "0xabcparse_result_normalized").
const DefaultCompanionSuffix = "parse_result_normalized"

// OutputSuffix is appended to the graph artifact name to name the AFU artifact.
const OutputSuffix = "_ast.txt"

// UnitStem returns the unit name up to its first '.'.
func UnitStem(unit string) string {
	if i := strings.IndexByte(unit, '.'); i >= 0 {
		return unit[:i]
	}
	return unit
}

// CompanionPath returns the companion text path of a unit under dir. An
// empty suffix selects DefaultCompanionSuffix.
func CompanionPath(dir, unit, suffix string) string {
	if suffix == "" {
		suffix = DefaultCompanionSuffix
	}
	return filepath.Join(dir, UnitStem(unit)+suffix)
}

// OutputPath returns "<dir>/<graph artifact name>_ast.txt".
func OutputPath(dir, graphArtifactPath string) string {
	return filepath.Join(dir, filepath.Base(graphArtifactPath)+OutputSuffix)
}

// ReadCompanion reads a companion text artifact.
//
// Outputs:
//
//	string - The text, verbatim.
//	error - Wraps ErrMissingCompanion if the file does not exist; other
//	        I/O errors are returned wrapped.
func ReadCompanion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrMissingCompanion, path)
	}
	if err != nil {
		return "", fmt.Errorf("reading companion %s: %w", path, err)
	}
	return string(data), nil
}

// companionFor resolves and reads the companion of a graph artifact.
func companionFor(dir, suffix, graphArtifactPath string) (string, string, error) {
	path := CompanionPath(dir, graph.UnitFromArtifactPath(graphArtifactPath), suffix)
	text, err := ReadCompanion(path)
	return text, path, err
}
