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
	"strings"
	"testing"
)

func TestDetectSolcVersion(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"exact", "pragma solidity 0.4.24;", "0.4.24"},
		{"caret", "pragma solidity ^0.5.0;", "0.5.0"},
		{"range", "pragma solidity >=0.6.2 <0.8.0;", "0.6.2"},
		{"two digit patch", "pragma solidity ^0.4.26;", "0.4.26"},
		{"after comments", "// header\n/* x */\npragma solidity 0.7.6;", "0.7.6"},
		{"no pragma", "contract A {}", DefaultSolcVersion},
		{"no version", "pragma solidity latest;", DefaultSolcVersion},
		{"empty", "", DefaultSolcVersion},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectSolcVersion(strings.NewReader(tc.src), DefaultSolcVersion)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("DetectSolcVersion = %q, want %q", got, tc.want)
			}
		})
	}
}
