// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultSolcVersion is used when a source declares no usable pragma.
const DefaultSolcVersion = "0.4.25"

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// DetectSolcVersion returns the first X.Y.Z version on the first
// "pragma solidity" line of r. Constraint operators are ignored, so
// "^0.4.24" and ">=0.4.24 <0.6.0" both yield "0.4.24". Returns def when
// there is no pragma or it carries no valid version.
func DetectSolcVersion(r io.Reader, def string) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "pragma solidity") {
			continue
		}
		v := versionPattern.FindString(line)
		if v == "" || !semver.IsValid("v"+v) {
			return def, nil
		}
		return v, nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scanning for pragma: %w", err)
	}
	return def, nil
}

// DetectSolcVersionFile is DetectSolcVersion over the file at path.
func DetectSolcVersionFile(path, def string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening source %s: %w", path, err)
	}
	defer f.Close()
	return DetectSolcVersion(f, def)
}
