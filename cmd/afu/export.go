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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAFU/services/afu/export"
	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
	"github.com/AleutianAI/AleutianAFU/services/afu/pipeline"
)

// neo4jPasswordEnv overrides neo4j.password from the config.
const neo4jPasswordEnv = "AFU_NEO4J_PASSWORD"

func (a *app) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graph artifacts to external stores",
	}
	cmd.AddCommand(a.exportNeo4jCmd())
	return cmd
}

func (a *app) exportNeo4jCmd() *cobra.Command {
	var (
		uri    string
		user   string
		clean  bool
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "neo4j",
		Short: "Load every graph artifact into Neo4j",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			nc := a.cfg.Neo4j
			if uri != "" {
				nc.URI = uri
			}
			if user != "" {
				nc.User = user
			}
			if pw := os.Getenv(neo4jPasswordEnv); pw != "" {
				nc.Password = pw
			}
			if cmd.Flags().Changed("clean") {
				nc.Clean = clean
			}

			paths, err := pipeline.Discover(a.cfg.Paths.GraphDir, graph.ArtifactSuffix,
				pipeline.Filter{Include: a.cfg.Discovery.Include, Exclude: a.cfg.Discovery.Exclude})
			if err != nil {
				return err
			}

			loader, err := export.NewNeo4jLoader(ctx, export.Neo4jOptions{
				URI:       nc.URI,
				User:      nc.User,
				Password:  nc.Password,
				Database:  nc.Database,
				BatchSize: nc.BatchSize,
				Logger:    a.logger,
			})
			if err != nil {
				return err
			}
			defer loader.Close(ctx)

			if nc.Clean {
				if err := loader.CleanGraph(ctx); err != nil {
					return err
				}
			}
			if err := loader.CreateIndexes(ctx); err != nil {
				return err
			}
			st, err := loader.LoadArtifacts(ctx, paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "exported %d units, %d nodes, %d edges to %s, %d failed\n",
				st.Units, st.Nodes, st.Edges, nc.URI, st.Failed)
			for _, f := range st.Failures {
				fmt.Fprintf(a.stdout, "  %s\t%s\n", f.Unit, f.Error)
			}
			if strict && st.Failed > 0 {
				return fmt.Errorf("%d units failed to export", st.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "", "Neo4j bolt URI (default from config)")
	cmd.Flags().StringVar(&user, "user", "", "Neo4j user (default from config)")
	cmd.Flags().BoolVar(&clean, "clean", false, "remove previously exported AFU data first")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero if any unit failed to export")
	return cmd
}
