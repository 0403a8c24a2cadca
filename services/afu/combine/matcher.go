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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// MatchMode selects how a line number tag is recognized in a text line.
type MatchMode string

const (
	// MatchAnchored matches a line whose leading tag, after indentation,
	// is exactly "<n>_". "15_" does not match "115_x".
	MatchAnchored MatchMode = "anchored"

	// MatchLoose matches a line containing "<n>_" anywhere. This is the
	// legacy matching rule, including its over-matching ("15_" also
	// matches "115_x").
	MatchLoose MatchMode = "loose"
)

// ParseMatchMode parses a mode name. The empty string selects MatchAnchored.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case "", MatchAnchored:
		return MatchAnchored, nil
	case MatchLoose:
		return MatchLoose, nil
	default:
		return "", fmt.Errorf("%w: match mode %q", ErrUnknownMode, s)
	}
}

// Matcher returns the companion lines that belong to a line span.
//
// For every n from span.Start to span.End, the lines tagged n are returned
// in text order. Lines are not deduplicated: a line matching several n
// appears once per match.
type Matcher interface {
	Match(span graph.LineSpan) []string
}

// NewMatcher builds a matcher over the companion text.
func NewMatcher(mode MatchMode, companion string) (Matcher, error) {
	lines := strings.Split(companion, "\n")
	switch mode {
	case "", MatchAnchored:
		return newAnchoredMatcher(lines), nil
	case MatchLoose:
		return newLooseMatcher(lines), nil
	default:
		return nil, fmt.Errorf("%w: match mode %q", ErrUnknownMode, mode)
	}
}

// tagIndex maps line number tags to the companion lines carrying them.
// Lookups walk only the tags present in the text, never the whole span.
type tagIndex struct {
	tags  []int
	byTag map[int][]string
}

func newTagIndex() *tagIndex {
	return &tagIndex{byTag: make(map[int][]string)}
}

func (ix *tagIndex) add(n int, line string) {
	if _, ok := ix.byTag[n]; !ok {
		ix.tags = append(ix.tags, n)
	}
	ix.byTag[n] = append(ix.byTag[n], line)
}

func (ix *tagIndex) seal() {
	sort.Ints(ix.tags)
}

func (ix *tagIndex) match(span graph.LineSpan) []string {
	var out []string
	for i := sort.SearchInts(ix.tags, span.Start); i < len(ix.tags) && ix.tags[i] <= span.End; i++ {
		out = append(out, ix.byTag[ix.tags[i]]...)
	}
	return out
}

// AnchoredMatcher indexes lines by their leading tag.
type AnchoredMatcher struct {
	index *tagIndex
}

func newAnchoredMatcher(lines []string) *AnchoredMatcher {
	ix := newTagIndex()
	for _, line := range lines {
		if n, ok := leadingTag(line); ok {
			ix.add(n, line)
		}
	}
	ix.seal()
	return &AnchoredMatcher{index: ix}
}

// Match implements Matcher.
func (m *AnchoredMatcher) Match(span graph.LineSpan) []string {
	return m.index.match(span)
}

// leadingTag parses "<digits>_" at the start of a line, ignoring indentation.
func leadingTag(line string) (int, bool) {
	s := strings.TrimLeft(line, " \t")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || s[i] != '_' {
		return 0, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, false
	}
	return n, true
}

// LooseMatcher matches "<n>_" anywhere in a line.
type LooseMatcher struct {
	index *tagIndex
}

func newLooseMatcher(lines []string) *LooseMatcher {
	ix := newTagIndex()
	for _, line := range lines {
		for _, n := range substringTags(line) {
			ix.add(n, line)
		}
	}
	ix.seal()
	return &LooseMatcher{index: ix}
}

// Match implements Matcher.
func (m *LooseMatcher) Match(span graph.LineSpan) []string {
	return m.index.match(span)
}

// substringTags returns every n, once, for which strconv.Itoa(n)+"_" is a
// substring of line. Such an n is a suffix of a digit run ending at "_":
// "115_" yields 115, 15 and 5.
func substringTags(line string) []int {
	var (
		out  []int
		seen map[int]bool
	)
	for end := strings.IndexByte(line, '_'); end >= 0; {
		begin := end
		for begin > 0 && line[begin-1] >= '0' && line[begin-1] <= '9' {
			begin--
		}
		for i := begin; i < end; i++ {
			// Itoa never emits a leading zero except for 0 itself.
			if line[i] == '0' && i != end-1 {
				continue
			}
			n, err := strconv.Atoi(line[i:end])
			if err != nil {
				continue
			}
			if seen == nil {
				seen = make(map[int]bool)
			}
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
		next := strings.IndexByte(line[end+1:], '_')
		if next < 0 {
			break
		}
		end += next + 1
	}
	return out
}
