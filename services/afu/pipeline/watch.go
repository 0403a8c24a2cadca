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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// isGraphArtifact reports whether path names a finished graph artifact.
// Temp files written by graph.WriteArtifact start with a dot.
func isGraphArtifact(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, graph.ArtifactSuffix)
}

// Watch combines graph artifacts as they appear in paths.graph_dir.
//
// Description:
//
//	Artifacts are written to a temp file and renamed into place, so a
//	create event (a rename into the directory included) on a ".graph"
//	name marks a complete artifact. Each one is combined on the worker
//	pool and its result is passed to onResult, which must be safe for
//	concurrent use. Artifacts already present when Watch starts are not
//	combined; run RunCombine first for those.
//
// Inputs:
//
//	ctx - Watching stops when ctx is canceled.
//	onResult - Receives every unit result. May be nil.
//
// Outputs:
//
//	error - nil after ctx is canceled and in-flight units finish, or the
//	        watcher's error.
func (r *Runner) Watch(ctx context.Context, onResult func(UnitResult)) error {
	dir := r.cfg.Paths.GraphDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating graph dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	r.logger.Info("watching for graph artifacts", slog.String("dir", dir))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Pipeline.Workers)

	var watchErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-w.Events:
			if !ok {
				break loop
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if !isGraphArtifact(ev.Name) {
				continue
			}
			path := ev.Name
			g.Go(func() error {
				res := r.CombineUnit(gctx, path)
				recordUnit(res)
				if onResult != nil {
					onResult(res)
				}
				return nil
			})
		case err, ok := <-w.Errors:
			if !ok {
				break loop
			}
			watchErr = err
			break loop
		}
	}

	_ = g.Wait()
	if watchErr != nil && !errors.Is(watchErr, fsnotify.ErrClosed) {
		return fmt.Errorf("watching %s: %w", dir, watchErr)
	}
	return nil
}
