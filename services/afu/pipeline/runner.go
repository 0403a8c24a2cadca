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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAFU/services/afu/analyzer"
	"github.com/AleutianAI/AleutianAFU/services/afu/combine"
	"github.com/AleutianAI/AleutianAFU/services/afu/config"
	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// SourceSuffix is the suffix of analyzer inputs.
const SourceSuffix = ".sol"

// FactAnalyzer produces the facts of one source file.
//
// *analyzer.Analyzer implements it.
type FactAnalyzer interface {
	Analyze(ctx context.Context, sourcePath string) (*facts.Unit, error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAnalyzer replaces the analyzer built from the config. Setting one
// makes the graph stage read sources instead of fact files.
func WithAnalyzer(a FactAnalyzer) RunnerOption {
	return func(r *Runner) { r.analyzer = a }
}

// WithSnapshotStore indexes every built graph in s.
func WithSnapshotStore(s *graph.SnapshotStore) RunnerOption {
	return func(r *Runner) { r.snapshots = s }
}

// Runner executes pipeline stages over batches of units.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent runs writing the same output
//	directories are serialized per output file by the combiner.
type Runner struct {
	cfg       config.Config
	filter    Filter
	dedup     graph.DedupPolicy
	combiner  *combine.Combiner
	analyzer  FactAnalyzer
	snapshots *graph.SnapshotStore
	logger    *slog.Logger
}

// NewRunner creates a runner from a validated config.
//
// Inputs:
//
//	cfg - Pipeline configuration. Mode strings are parsed here.
//	opts - Optional overrides.
//
// Outputs:
//
//	*Runner - The runner.
//	error - Non-nil if a mode or glob in cfg is invalid.
func NewRunner(cfg config.Config, opts ...RunnerOption) (*Runner, error) {
	dedup, err := graph.ParseDedupPolicy(cfg.Graph.DedupPolicy)
	if err != nil {
		return nil, err
	}
	matchMode, err := combine.ParseMatchMode(cfg.Combine.MatchMode)
	if err != nil {
		return nil, err
	}
	outputMode, err := combine.ParseOutputMode(cfg.Combine.OutputMode)
	if err != nil {
		return nil, err
	}
	filter := Filter{Include: cfg.Discovery.Include, Exclude: cfg.Discovery.Exclude}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if cfg.Pipeline.Workers < 1 {
		cfg.Pipeline.Workers = 1
	}

	r := &Runner{
		cfg:    cfg,
		filter: filter,
		dedup:  dedup,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.analyzer == nil && cfg.Analyzer.Enabled {
		r.analyzer = analyzer.New(analyzer.Options{
			Command:            cfg.Analyzer.Command,
			Args:               cfg.Analyzer.Args,
			Timeout:            cfg.Analyzer.Timeout,
			SolcSelect:         cfg.Analyzer.SolcSelect,
			DefaultSolcVersion: cfg.Analyzer.DefaultSolcVersion,
			LaunchesPerSecond:  cfg.Analyzer.LaunchesPerSecond,
			Logger:             r.logger,
		})
	}
	r.combiner = combine.NewCombiner(
		combine.WithMatchMode(matchMode),
		combine.WithOutputMode(outputMode),
		combine.WithCompanionSuffix(cfg.Combine.CompanionSuffix),
		combine.WithLogger(r.logger),
	)
	return r, nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() config.Config {
	return r.cfg
}

// Run executes the graph stage and then the combine stage.
//
// Outputs:
//
//	[]*BatchReport - One report per stage that ran.
//	error - Non-nil only if inputs could not be discovered.
func (r *Runner) Run(ctx context.Context) ([]*BatchReport, error) {
	graphs, err := r.RunGraphs(ctx)
	if err != nil {
		return nil, err
	}
	combined, err := r.RunCombine(ctx)
	if err != nil {
		return []*BatchReport{graphs}, err
	}
	return []*BatchReport{graphs, combined}, nil
}

// RunGraphs builds a graph artifact for every discovered unit.
//
// Description:
//
//	With an analyzer, inputs are the ".sol" files under paths.sources_dir;
//	otherwise they are the fact files under paths.facts_dir. Each unit is
//	built, written to paths.graph_dir and, when a snapshot store is set,
//	indexed. Unit failures are recorded in the report.
//
// Outputs:
//
//	*BatchReport - Per-unit results in discovery order.
//	error - Non-nil only if inputs could not be discovered.
func (r *Runner) RunGraphs(ctx context.Context) (*BatchReport, error) {
	dir, suffix := r.cfg.Paths.FactsDir, facts.FileSuffix
	if r.analyzer != nil {
		dir, suffix = r.cfg.Paths.SourcesDir, SourceSuffix
	}
	inputs, err := Discover(dir, suffix, r.filter)
	if err != nil {
		return nil, err
	}
	r.logger.Info("graph stage starting",
		slog.Int("units", len(inputs)),
		slog.String("input_dir", dir),
		slog.Bool("analyzer", r.analyzer != nil),
	)
	return r.forEach(ctx, StageGraph, inputs, r.graphUnitName, r.GraphUnit), nil
}

// RunCombine writes an AFU artifact for every graph artifact in
// paths.graph_dir.
func (r *Runner) RunCombine(ctx context.Context) (*BatchReport, error) {
	inputs, err := Discover(r.cfg.Paths.GraphDir, graph.ArtifactSuffix, r.filter)
	if err != nil {
		return nil, err
	}
	r.logger.Info("combine stage starting",
		slog.Int("units", len(inputs)),
		slog.String("input_dir", r.cfg.Paths.GraphDir),
	)
	return r.forEach(ctx, StageCombine, inputs, graph.UnitFromArtifactPath, r.CombineUnit), nil
}

// GraphUnit runs the graph stage for one fact file or source file.
func (r *Runner) GraphUnit(ctx context.Context, input string) UnitResult {
	start := time.Now()
	res := UnitResult{Unit: r.graphUnitName(input), Stage: StageGraph, Input: input}

	built, out, err := r.buildGraph(ctx, input)
	if built != nil {
		res.Unit = built.Graph.SourceUnit
		res.Nodes = built.Stats.Nodes
		res.Edges = built.Stats.Edges
	}
	res.Output = out
	return r.finishUnit(res, start, err)
}

func (r *Runner) buildGraph(ctx context.Context, input string) (*graph.BuildResult, string, error) {
	var (
		u   *facts.Unit
		err error
	)
	if r.analyzer != nil {
		u, err = r.analyzer.Analyze(ctx, input)
	} else {
		u, err = facts.ReadFile(input)
	}
	if err != nil {
		return nil, "", err
	}

	built, err := graph.BuildUnit(ctx, u,
		graph.WithDedupPolicy(r.dedup),
		graph.WithLogger(r.logger),
	)
	if err != nil {
		return nil, "", err
	}

	out, err := graph.WriteArtifact(r.cfg.Paths.GraphDir, built.Graph)
	if err != nil {
		return built, "", fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if r.snapshots != nil {
		if _, err := r.snapshots.Save(ctx, built.Graph); err != nil {
			return built, out, fmt.Errorf("%w: indexing snapshot: %w", ErrSerialization, err)
		}
	}
	recordGraph(built.Graph)
	return built, out, nil
}

// CombineUnit runs the combine stage for one graph artifact.
func (r *Runner) CombineUnit(ctx context.Context, graphPath string) UnitResult {
	start := time.Now()
	res := UnitResult{Unit: graph.UnitFromArtifactPath(graphPath), Stage: StageCombine, Input: graphPath}

	cr, err := r.combiner.CombineArtifact(ctx, graphPath, r.cfg.Paths.CompanionDir, r.cfg.Paths.AFUDir)
	if cr != nil {
		res.Records = cr.EdgesWritten
		res.Edges = cr.EdgesTotal
		if err == nil {
			res.Output = cr.OutputPath
			recordCombine(cr.EdgesWritten)
		}
	}
	return r.finishUnit(res, start, err)
}

func (r *Runner) finishUnit(res UnitResult, start time.Time, err error) UnitResult {
	res.Duration = time.Since(start)
	res.Reason = Classify(res.Stage, err)
	if err != nil {
		res.Err = &UnitError{Unit: res.Unit, Stage: res.Stage, Err: err}
		res.Error = err.Error()
		r.logger.Warn("unit failed",
			slog.String("stage", string(res.Stage)),
			slog.String("unit", res.Unit),
			slog.String("reason", string(res.Reason)),
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.Debug("unit done",
			slog.String("stage", string(res.Stage)),
			slog.String("unit", res.Unit),
			slog.Int("nodes", res.Nodes),
			slog.Int("edges", res.Edges),
			slog.Duration("duration", res.Duration),
		)
	}
	return res
}

func (r *Runner) graphUnitName(input string) string {
	if r.analyzer != nil {
		return filepath.Base(input)
	}
	return facts.UnitNameFromPath(input)
}

// forEach processes inputs on a bounded worker pool.
//
// Description:
//
//	Every input yields exactly one result, stored at the input's index.
//	Once ctx is canceled no new unit is started; the rest are reported as
//	canceled. Units never fail the group, so one unit's error cannot
//	cancel its siblings.
func (r *Runner) forEach(
	ctx context.Context,
	stage Stage,
	inputs []string,
	unitName func(string) string,
	fn func(context.Context, string) UnitResult,
) *BatchReport {
	report := newBatchReport(stage, len(inputs))
	results := make([]UnitResult, len(inputs))

	canceled := func(input string, err error) UnitResult {
		return UnitResult{
			Unit:   unitName(input),
			Stage:  stage,
			Input:  input,
			Reason: ReasonCanceled,
			Err:    err,
			Error:  err.Error(),
		}
	}

	var done, failed atomic.Int64
	every := int64(r.cfg.Pipeline.ProgressEvery)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Pipeline.Workers)
	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			results[i] = canceled(input, err)
			recordUnit(results[i])
			continue
		}
		g.Go(func() error {
			var res UnitResult
			if err := gctx.Err(); err != nil {
				res = canceled(input, err)
			} else {
				res = fn(gctx, input)
			}
			results[i] = res
			recordUnit(res)

			if !res.OK() && res.Reason != ReasonCanceled {
				failed.Add(1)
			}
			if n := done.Add(1); every > 0 && n%every == 0 {
				r.logger.Info("progress",
					slog.String("stage", string(stage)),
					slog.Int64("done", n),
					slog.Int("total", len(inputs)),
					slog.Int64("failed", failed.Load()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.finish(results)
	r.logger.Info("stage finished",
		slog.String("stage", string(stage)),
		slog.String("run_id", report.RunID),
		slog.Int("total", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration()),
	)
	return report
}
