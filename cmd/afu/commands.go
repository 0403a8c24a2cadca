// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAFU/services/afu/pipeline"
)

// stageFlags are shared by the batch commands.
type stageFlags struct {
	workers    int
	reportPath string
	strict     bool
}

func (f *stageFlags) register(cmd *cobra.Command) {
	f.registerWorkers(cmd)
	cmd.Flags().StringVar(&f.reportPath, "report", "", "write the JSON batch report to this file, or - for stdout")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero if any unit failed")
}

func (f *stageFlags) registerWorkers(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.workers, "workers", 0, "units processed concurrently (default from config)")
}

func (a *app) newRunner(f *stageFlags, withSnapshots bool) (*pipeline.Runner, error) {
	cfg := a.cfg
	if f.workers > 0 {
		cfg.Pipeline.Workers = f.workers
	}
	opts := []pipeline.RunnerOption{pipeline.WithLogger(a.logger)}
	if withSnapshots {
		store, err := a.openSnapshots(false)
		if err != nil {
			return nil, err
		}
		if store != nil {
			opts = append(opts, pipeline.WithSnapshotStore(store))
		}
	}
	return pipeline.NewRunner(cfg, opts...)
}

// report prints summaries, writes the JSON reports and applies --strict.
func (a *app) report(f *stageFlags, reports ...*pipeline.BatchReport) error {
	failed := 0
	for _, r := range reports {
		fmt.Fprint(a.stdout, r.Summary())
		failed += r.Failed
	}

	if f.reportPath != "" {
		out := a.stdout
		if f.reportPath != "-" {
			file, err := os.Create(f.reportPath)
			if err != nil {
				return fmt.Errorf("creating report: %w", err)
			}
			defer file.Close()
			out = file
		}
		for _, r := range reports {
			if err := r.WriteJSON(out); err != nil {
				return err
			}
		}
	}

	if f.strict && failed > 0 {
		return fmt.Errorf("%d units failed", failed)
	}
	return nil
}

func (a *app) graphCmd() *cobra.Command {
	var f stageFlags
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build a call-graph artifact for every fact file (or source, with the analyzer enabled)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.newRunner(&f, true)
			if err != nil {
				return err
			}
			rep, err := r.RunGraphs(cmd.Context())
			if err != nil {
				return err
			}
			return a.report(&f, rep)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) combineCmd() *cobra.Command {
	var f stageFlags
	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Write an AFU artifact for every graph artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.newRunner(&f, false)
			if err != nil {
				return err
			}
			rep, err := r.RunCombine(cmd.Context())
			if err != nil {
				return err
			}
			return a.report(&f, rep)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var f stageFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the graph stage and then the combine stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.newRunner(&f, true)
			if err != nil {
				return err
			}
			reps, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			return a.report(&f, reps...)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var (
		f       stageFlags
		initial bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Combine graph artifacts as they appear in the graph directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.newRunner(&f, false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if initial {
				rep, err := r.RunCombine(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(a.stdout, rep.Summary())
			}
			return r.Watch(ctx, a.printResult(ctx))
		},
	}
	f.registerWorkers(cmd)
	cmd.Flags().BoolVar(&initial, "initial", false, "combine existing graph artifacts before watching")
	return cmd
}

// printResult returns a result callback that prints one line per unit.
func (a *app) printResult(ctx context.Context) func(pipeline.UnitResult) {
	lines := make(chan string, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case l := <-lines:
				fmt.Fprintln(a.stdout, l)
			}
		}
	}()
	return func(r pipeline.UnitResult) {
		l := fmt.Sprintf("%s\t%s\t%d records", r.Unit, r.Reason, r.Records)
		if r.Err != nil {
			l = fmt.Sprintf("%s\t%s\t%v", r.Unit, r.Reason, r.Err)
		}
		select {
		case lines <- l:
		case <-ctx.Done():
		}
	}
}
