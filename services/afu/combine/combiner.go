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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

var tracer = otel.Tracer("afu.combine")

// ctxCheckInterval is how many edges are written between context checks.
const ctxCheckInterval = 256

// OutputMode selects how an existing AFU artifact is treated.
type OutputMode string

const (
	// OutputTruncate opens the artifact create-or-truncate once per run, so
	// reruns replace earlier output.
	OutputTruncate OutputMode = "truncate"

	// OutputAppend appends to an existing artifact. A rerun duplicates the
	// header and every edge block.
	OutputAppend OutputMode = "append"
)

// ParseOutputMode parses a mode name. The empty string selects OutputTruncate.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case "", OutputTruncate:
		return OutputTruncate, nil
	case OutputAppend:
		return OutputAppend, nil
	default:
		return "", fmt.Errorf("%w: output mode %q", ErrUnknownMode, s)
	}
}

func (m OutputMode) openFlags() int {
	if m == OutputAppend {
		return os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	return os.O_CREATE | os.O_WRONLY | os.O_TRUNC
}

// Options configures a Combiner.
type Options struct {
	// MatchMode selects the line matcher. Default: MatchAnchored.
	MatchMode MatchMode

	// OutputMode selects truncate or append. Default: OutputTruncate.
	OutputMode OutputMode

	// CompanionSuffix names companion artifacts. Default: DefaultCompanionSuffix.
	CompanionSuffix string

	// Logger for diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for NewCombiner.
type Option func(*Options)

// WithMatchMode sets the match mode.
func WithMatchMode(m MatchMode) Option {
	return func(o *Options) { o.MatchMode = m }
}

// WithOutputMode sets the output mode.
func WithOutputMode(m OutputMode) Option {
	return func(o *Options) { o.OutputMode = m }
}

// WithCompanionSuffix sets the companion file suffix.
func WithCompanionSuffix(s string) Option {
	return func(o *Options) { o.CompanionSuffix = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Result summarizes one unit's combination run.
type Result struct {
	Unit          string `json:"unit"`
	OutputPath    string `json:"output_path"`
	CompanionPath string `json:"companion_path,omitempty"`
	EdgesTotal    int    `json:"edges_total"`
	EdgesWritten  int    `json:"edges_written"`
	LinesWritten  int    `json:"lines_written"`
	BytesWritten  int64  `json:"bytes_written"`
}

// Combiner writes AFU artifacts.
//
// Thread Safety:
//
//	Safe for concurrent use. Runs against the same output path are
//	serialized by a per-path lock; runs on different paths do not block
//	each other.
type Combiner struct {
	opts Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCombiner creates a combiner. Unknown modes fall back to the defaults
// after a warning; use ParseMatchMode and ParseOutputMode to reject them.
func NewCombiner(opts ...Option) *Combiner {
	o := Options{
		MatchMode:       MatchAnchored,
		OutputMode:      OutputTruncate,
		CompanionSuffix: DefaultCompanionSuffix,
		Logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if _, err := ParseMatchMode(string(o.MatchMode)); err != nil {
		o.Logger.Warn("unknown match mode, using anchored", slog.String("mode", string(o.MatchMode)))
		o.MatchMode = MatchAnchored
	}
	if _, err := ParseOutputMode(string(o.OutputMode)); err != nil {
		o.Logger.Warn("unknown output mode, using truncate", slog.String("mode", string(o.OutputMode)))
		o.OutputMode = OutputTruncate
	}
	if o.OutputMode == "" {
		o.OutputMode = OutputTruncate
	}
	if o.CompanionSuffix == "" {
		o.CompanionSuffix = DefaultCompanionSuffix
	}
	return &Combiner{opts: o, locks: make(map[string]*sync.Mutex)}
}

// Options returns the effective options.
func (c *Combiner) Options() Options {
	return c.opts
}

func (c *Combiner) lockFor(path string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[path]
	if !ok {
		l = &sync.Mutex{}
		c.locks[path] = l
	}
	return l
}

// CombineArtifact reads a graph artifact and its companion and writes the
// AFU artifact into afuDir.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	graphPath - Path of a "<unit>.graph" artifact.
//	companionDir - Directory holding companion text artifacts.
//	afuDir - Output directory. Created if missing.
//
// Outputs:
//
//	*Result - Counts for the run.
//	error - Wraps ErrMissingCompanion, graph.ErrInvalidArtifact, or an
//	        I/O error. Nothing is written when the graph or the companion
//	        cannot be read.
func (c *Combiner) CombineArtifact(ctx context.Context, graphPath, companionDir, afuDir string) (*Result, error) {
	g, err := graph.ReadArtifact(graphPath)
	if err != nil {
		return nil, err
	}
	text, companionPath, err := companionFor(companionDir, c.opts.CompanionSuffix, graphPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(afuDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating afu dir: %w", err)
	}
	res, err := c.Combine(ctx, g, text, OutputPath(afuDir, graphPath))
	if res != nil {
		res.CompanionPath = companionPath
	}
	return res, err
}

// Combine writes the AFU artifact of g to outputPath.
//
// Description:
//
//	Acquires the per-path lock, opens outputPath once for the whole run
//	(create-or-truncate, or append in legacy mode), writes the header and
//	one block per edge, and closes the file on every exit path.
//
// Outputs:
//
//	*Result - Counts for the run, also on a partial write.
//	error - Non-nil on I/O failure or cancellation.
func (c *Combiner) Combine(ctx context.Context, g *graph.CallGraph, companion, outputPath string) (res *Result, err error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}

	ctx, span := tracer.Start(ctx, "combine.Combine",
		trace.WithAttributes(
			attribute.String("afu.unit", g.SourceUnit),
			attribute.String("afu.match_mode", string(c.opts.MatchMode)),
			attribute.String("afu.output_mode", string(c.opts.OutputMode)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	m, err := NewMatcher(c.opts.MatchMode, companion)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(outputPath)
	if err != nil {
		abs = outputPath
	}
	lock := c.lockFor(abs)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(outputPath, c.opts.OutputMode.openFlags(), 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening afu output %s: %w", outputPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing afu output %s: %w", outputPath, cerr)
		}
	}()

	res, err = WriteAFU(ctx, f, g, companion, m)
	if res != nil {
		res.OutputPath = outputPath
		span.SetAttributes(
			attribute.Int("afu.edges_total", res.EdgesTotal),
			attribute.Int("afu.edges_written", res.EdgesWritten),
		)
	}
	if err != nil {
		return res, err
	}

	c.opts.Logger.Debug("afu written",
		slog.String("unit", g.SourceUnit),
		slog.String("output", outputPath),
		slog.Int("edges", res.EdgesTotal),
		slog.Int("blocks", res.EdgesWritten),
		slog.Int("lines", res.LinesWritten),
	)
	return res, nil
}

// WriteAFU writes the header and the per-edge blocks of g to w.
//
// Description:
//
//	The header is the companion text followed by "\n". For each edge in
//	graph order, the matched lines of the source span and then of the
//	target span are joined with "\n" and terminated by "\n". Edges with
//	no matched lines write nothing. Endpoints without a span (builtins)
//	contribute no lines.
//
// Outputs:
//
//	*Result - Counts of what was written before any error.
//	error - The first write error, or ctx.Err() on cancellation.
func WriteAFU(ctx context.Context, w io.Writer, g *graph.CallGraph, companion string, m Matcher) (*Result, error) {
	res := &Result{Unit: g.SourceUnit}
	edges := g.Edges()
	res.EdgesTotal = len(edges)

	n, err := io.WriteString(w, companion+"\n")
	res.BytesWritten += int64(n)
	if err != nil {
		return res, fmt.Errorf("writing header: %w", err)
	}

	for i, e := range edges {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}

		matched := matchEndpoint(g, e.From, m)
		matched = append(matched, matchEndpoint(g, e.To, m)...)
		if len(matched) == 0 {
			continue
		}

		n, err := io.WriteString(w, strings.Join(matched, "\n")+"\n")
		res.BytesWritten += int64(n)
		if err != nil {
			return res, fmt.Errorf("writing block for edge %d: %w", i, err)
		}
		res.EdgesWritten++
		res.LinesWritten += len(matched)
	}
	return res, nil
}

func matchEndpoint(g *graph.CallGraph, id graph.NodeID, m Matcher) []string {
	n, ok := g.Node(id)
	if !ok || n.Span == nil {
		return nil
	}
	return m.Match(*n.Span)
}

