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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

func (a *app) snapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect graphs indexed in the snapshot store",
	}
	cmd.AddCommand(a.snapshotsListCmd(), a.snapshotsShowCmd(), a.snapshotsDiffCmd())
	return cmd
}

func (a *app) snapshotsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openSnapshots(true)
			if err != nil {
				return err
			}
			metas, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UNIT\tNODES\tEDGES\tHASH\tCREATED")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					m.SourceUnit, m.NodeCount, m.EdgeCount, shortHash(m.GraphHash),
					time.UnixMilli(m.CreatedAtMilli).UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (0 = all)")
	return cmd
}

func (a *app) snapshotsShowCmd() *cobra.Command {
	var (
		artifact string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "show [unit]",
		Short: "Dump the nodes and edges of an indexed graph or a graph artifact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				g   *graph.CallGraph
				err error
			)
			switch {
			case artifact != "":
				g, err = graph.ReadArtifact(artifact)
			case len(args) == 1:
				var store *graph.SnapshotStore
				if store, err = a.openSnapshots(true); err == nil {
					g, _, err = store.Load(cmd.Context(), args[0])
				}
			default:
				err = errors.New("a unit or --artifact is required")
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(g.ToSerializable())
			}
			return dumpGraph(a.stdout, g)
		},
	}
	cmd.Flags().StringVar(&artifact, "artifact", "", "read this graph artifact instead of the store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the serialized graph as JSON")
	return cmd
}

func (a *app) snapshotsDiffCmd() *cobra.Command {
	var artifact string
	cmd := &cobra.Command{
		Use:   "diff <unit>",
		Short: "Compare an indexed graph with the unit's current graph artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unit := args[0]
			store, err := a.openSnapshots(true)
			if err != nil {
				return err
			}
			base, _, err := store.Load(cmd.Context(), unit)
			if err != nil {
				return err
			}
			if artifact == "" {
				artifact = graph.ArtifactPath(a.cfg.Paths.GraphDir, unit)
			}
			target, err := graph.ReadArtifact(artifact)
			if err != nil {
				return err
			}
			d, err := graph.DiffGraphs(base, target)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&artifact, "artifact", "", "graph artifact to compare (default <graph_dir>/<unit>.graph)")
	return cmd
}

// dumpGraph prints every node with its attributes and every edge with its
// label, in graph order.
func dumpGraph(w io.Writer, g *graph.CallGraph) error {
	fmt.Fprintf(w, "unit %s: %d nodes, %d edges, hash %s\n",
		g.SourceUnit, g.NodeCount(), g.EdgeCount(), shortHash(g.Hash()))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tTYPE\tCONTRACT\tLINES")
	for _, n := range g.Nodes() {
		lines := "-"
		if n.Span != nil {
			lines = n.Span.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.Type, n.ContractName, lines)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tLABEL")
	for _, e := range g.Edges() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.From, e.To, e.Label)
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
