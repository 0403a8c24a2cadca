// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package combine correlates persisted call graphs with their line-numbered
// companion text and writes one AFU (artifact feature unit) artifact per unit.
//
// The companion text is produced by an external normalizer. Every content
// line carries the number of the source line it came from, followed by "_".
// For each graph edge the combiner collects the companion lines that fall in
// the source node's span, then those in the target node's span, and appends
// the block to the unit's AFU artifact after a verbatim copy of the companion.
package combine

import "errors"

var (
	// ErrMissingCompanion is returned when a graph has no companion text
	// artifact. Fatal to that unit's combination run only.
	ErrMissingCompanion = errors.New("companion text artifact missing")

	// ErrUnknownMode is returned for an unrecognized match or output mode.
	ErrUnknownMode = errors.New("unknown mode")
)
