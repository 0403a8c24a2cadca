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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/AleutianAFU/services/afu/config"
	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// app holds the state shared by all commands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// Global flags.
	configPath  string
	logFormat   string
	logLevel    string
	metricsAddr string
	traceStdout bool

	cfg    config.Config
	logger *slog.Logger

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, logger: slog.Default()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "afu",
		Short:        "Extract call graphs and artifact feature units from contract facts",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./"+config.FileName+" if present)")
	pf.StringVar(&a.logFormat, "log-format", "auto", "log format: auto, text, json")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	pf.BoolVar(&a.traceStdout, "trace-stdout", false, "export OpenTelemetry spans to stderr")

	root.AddCommand(
		a.graphCmd(),
		a.combineCmd(),
		a.runCmd(),
		a.watchCmd(),
		a.snapshotsCmd(),
		a.exportCmd(),
	)
	return root
}

// setup configures logging, loads the config and starts the optional
// metrics server and trace exporter.
func (a *app) setup(ctx context.Context) error {
	logger, err := newLogger(a.stderr, a.logFormat, a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)

	if a.configPath != "" {
		a.cfg, err = config.LoadFile(a.configPath)
	} else {
		a.cfg, err = config.LoadDir(".")
	}
	if err != nil {
		return err
	}

	if a.traceStdout {
		if err := a.startTracing(); err != nil {
			return err
		}
	}
	if a.metricsAddr != "" {
		if err := a.startMetrics(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// newLogger builds the process logger. "auto" picks text on a terminal and
// JSON otherwise.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "auto", "":
		if isTerminal(w) {
			return slog.New(slog.NewTextHandler(w, opts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *app) startTracing() error {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(a.stderr))
	if err != nil {
		return fmt.Errorf("creating stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	a.closers = append(a.closers, tp.Shutdown)
	return nil
}

func (a *app) startMetrics(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.metricsAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.metricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

// openSnapshots opens the configured snapshot store, or returns nil when
// none is configured and required is false.
func (a *app) openSnapshots(required bool) (*graph.SnapshotStore, error) {
	if a.cfg.Store.BadgerPath == "" {
		if required {
			return nil, errors.New("no snapshot store configured (store.badger_path)")
		}
		return nil, nil
	}
	s, err := graph.OpenSnapshotStore(a.cfg.Store.BadgerPath, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	return s, nil
}
