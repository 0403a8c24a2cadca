// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects discovered files by doublestar globs matched against the
// slash-separated path relative to the scanned directory. An empty Include
// accepts everything; Exclude wins over Include.
type Filter struct {
	Include []string
	Exclude []string
}

// Validate checks that every pattern is well formed.
func (f Filter) Validate() error {
	for _, p := range append(append([]string{}, f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// Match reports whether rel passes the filter.
func (f Filter) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range f.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Discover returns the files under dir whose name ends with suffix and that
// pass the filter, sorted by path. Hidden files, such as in-progress
// artifact temp files, are skipped.
//
// Inputs:
//
//	dir - Directory to scan recursively.
//	suffix - Required file name suffix, e.g. ".facts.json" or ".graph".
//	f - Include/exclude globs.
//
// Outputs:
//
//	[]string - Matching paths, sorted.
//	error - Non-nil if dir cannot be walked or a pattern is invalid.
func Discover(dir, suffix string, f Filter) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if f.Match(rel) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering %s files in %s: %w", suffix, dir, err)
	}
	sort.Strings(out)
	return out, nil
}
