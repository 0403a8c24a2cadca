// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer runs the external static analyzer that emits function and
// call facts for one smart-contract source file.
//
// The analyzer is an outside process. Every invocation is bounded by a
// timeout, launches are rate limited, and any failure is reported as an
// error scoped to the one source file.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
)

var (
	// ErrAnalysisFailed is returned when the analyzer exits non-zero or
	// produces output that is not a valid fact document.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrAnalyzerTimeout is returned when the analyzer exceeds its timeout.
	ErrAnalyzerTimeout = errors.New("analyzer timed out")
)

// Argument placeholders substituted in Options.Args.
const (
	PlaceholderSource      = "{source}"
	PlaceholderSolcVersion = "{solc_version}"
)

// Defaults for Options.
const (
	DefaultCommand           = "slither-afu-facts"
	DefaultSolcSelectCommand = "solc-select"
	DefaultTimeout           = 5 * time.Minute
	DefaultWaitDelay         = 2 * time.Second

	// stderrTail bounds how much analyzer stderr is kept for error messages.
	stderrTail = 2048
)

// DefaultArgs passes the compiler version and the source path.
var DefaultArgs = []string{"--solc-version", PlaceholderSolcVersion, PlaceholderSource}

// Options configures an Analyzer. Zero values select the defaults.
type Options struct {
	// Command is the analyzer executable.
	Command string

	// Args are the analyzer arguments, with placeholders substituted.
	Args []string

	// Timeout bounds one invocation, including the solc-select step.
	Timeout time.Duration

	// WaitDelay bounds how long to wait for output pipes after the
	// process is killed.
	WaitDelay time.Duration

	// SolcSelect runs "<SolcSelectCommand> use <version>" before analysis.
	SolcSelect bool

	// SolcSelectCommand is the solc-select executable.
	SolcSelectCommand string

	// DefaultSolcVersion is used when the source declares no usable pragma.
	DefaultSolcVersion string

	// LaunchesPerSecond limits process launches. <= 0 means unlimited.
	LaunchesPerSecond float64

	// Logger for diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Analyzer invokes the external analyzer.
//
// Thread Safety: Safe for concurrent use.
type Analyzer struct {
	opts    Options
	limiter *rate.Limiter
}

// New creates an Analyzer, filling unset options with defaults.
func New(opts Options) *Analyzer {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if len(opts.Args) == 0 {
		opts.Args = DefaultArgs
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = DefaultWaitDelay
	}
	if opts.SolcSelectCommand == "" {
		opts.SolcSelectCommand = DefaultSolcSelectCommand
	}
	if opts.DefaultSolcVersion == "" {
		opts.DefaultSolcVersion = DefaultSolcVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	burst := 1
	if opts.LaunchesPerSecond > 0 {
		limit = rate.Limit(opts.LaunchesPerSecond)
		burst = max(1, int(opts.LaunchesPerSecond))
	}
	return &Analyzer{opts: opts, limiter: rate.NewLimiter(limit, burst)}
}

// Analyze produces the fact document of one source file.
//
// Description:
//
//	Detects the compiler version from the pragma, optionally switches the
//	installed compiler with solc-select, runs the analyzer and decodes its
//	stdout as a fact document. The whole call is bounded by Options.Timeout.
//
// Inputs:
//
//	ctx - Context for cancellation. Cancellation kills the analyzer.
//	sourcePath - Path of the .sol file.
//
// Outputs:
//
//	*facts.Unit - The decoded, validated facts.
//	error - ErrAnalyzerTimeout on timeout, ErrAnalysisFailed on a non-zero
//	        exit or invalid output, ctx.Err() if ctx was canceled.
func (a *Analyzer) Analyze(ctx context.Context, sourcePath string) (*facts.Unit, error) {
	version, err := DetectSolcVersionFile(sourcePath, a.opts.DefaultSolcVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	if a.opts.SolcSelect {
		if _, err := a.run(runCtx, a.opts.SolcSelectCommand, "use", version); err != nil {
			if errors.Is(err, ErrAnalyzerTimeout) || ctx.Err() != nil {
				return nil, err
			}
			a.opts.Logger.Warn("solc-select failed, continuing with installed compiler",
				slog.String("source", sourcePath),
				slog.String("solc_version", version),
				slog.String("error", err.Error()),
			)
		}
	}

	out, err := a.run(runCtx, a.opts.Command, a.expandArgs(sourcePath, version)...)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", filepath.Base(sourcePath), err)
	}

	u, err := facts.DecodeBytes(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAnalysisFailed, filepath.Base(sourcePath), err)
	}
	if u.CompilerVersion == "" {
		u.CompilerVersion = version
	}
	return u, nil
}

func (a *Analyzer) expandArgs(source, version string) []string {
	r := strings.NewReplacer(PlaceholderSource, source, PlaceholderSolcVersion, version)
	args := make([]string, len(a.opts.Args))
	for i, arg := range a.opts.Args {
		args[i] = r.Replace(arg)
	}
	return args
}

// run launches one process and returns its stdout.
func (a *Analyzer) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, a.contextError(ctx, name, err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = a.opts.WaitDelay

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	a.opts.Logger.Debug("analyzer process finished",
		slog.String("command", name),
		slog.Duration("duration", time.Since(start)),
		slog.Int("stdout_bytes", stdout.Len()),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, a.contextError(ctx, name, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%w: %s: %v", ErrAnalysisFailed, name, err)
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrAnalysisFailed, name, err, msg)
	}
	return stdout.Bytes(), nil
}

func (a *Analyzer) contextError(ctx context.Context, name string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrAnalyzerTimeout, name, a.opts.Timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// The limiter refuses waits that would outlive the deadline.
	return fmt.Errorf("%w: %s: %v", ErrAnalyzerTimeout, name, err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
