// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command afu extracts call graphs and artifact feature units (AFUs) from
// smart-contract analysis facts.
//
// Usage:
//
//	afu graph                 # facts (or sources) -> <unit>.graph
//	afu combine               # <unit>.graph + companion -> <unit>.graph_ast.txt
//	afu run                   # both stages
//	afu watch                 # combine graph artifacts as they appear
//	afu snapshots list        # list indexed graphs
//	afu snapshots show <unit> # dump one indexed graph
//	afu export neo4j          # load graph artifacts into Neo4j
//
// Configuration is read from afu.config.yaml in the working directory, or
// from --config.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	a := newApp(os.Stdout, os.Stderr)
	err := a.rootCmd().ExecuteContext(ctx)
	a.shutdown(context.Background())
	stop()
	if err != nil {
		os.Exit(1)
	}
}
