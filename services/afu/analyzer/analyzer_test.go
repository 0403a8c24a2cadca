// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const factsDoc = `{"source_unit": "a.sol", "functions": [
  {"contract": {"id": 1, "name": "A"}, "full_name": "f()", "source_mapping": "3-5"}
]}`

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

// writeSource writes a .sol file with the given pragma line.
func writeSource(t *testing.T, dir, pragma string) string {
	t.Helper()
	path := filepath.Join(dir, "a.sol")
	content := "// SPDX-License-Identifier: MIT\n" + pragma + "\ncontract A { function f() public {} }\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyze_Success(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(doc, []byte(factsDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	argsFile := filepath.Join(dir, "args")
	script := writeScript(t, dir, "fake", `echo "$@" > `+argsFile+`
cat `+doc)
	src := writeSource(t, dir, "pragma solidity ^0.5.1;")

	a := New(Options{Command: script, Timeout: 10 * time.Second})
	u, err := a.Analyze(context.Background(), src)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if u.SourceUnit != "a.sol" || len(u.Functions) != 1 {
		t.Errorf("unit = %+v", u)
	}
	if u.CompilerVersion != "0.5.1" {
		t.Errorf("compiler version = %q, want 0.5.1", u.CompilerVersion)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(args)); got != "--solc-version 0.5.1 "+src {
		t.Errorf("args = %q", got)
	}
}

func TestAnalyze_Failure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fake", "echo 'ParserError: unsupported version' >&2\nexit 3")
	src := writeSource(t, dir, "pragma solidity 0.4.24;")

	_, err := New(Options{Command: script}).Analyze(context.Background(), src)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if !strings.Contains(err.Error(), "unsupported version") {
		t.Errorf("stderr missing from error: %v", err)
	}
}

func TestAnalyze_InvalidOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fake", "echo 'not json'")
	src := writeSource(t, dir, "")

	_, err := New(Options{Command: script}).Analyze(context.Background(), src)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Errorf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fake", "exec sleep 10")
	src := writeSource(t, dir, "")

	a := New(Options{Command: script, Timeout: 100 * time.Millisecond, WaitDelay: 100 * time.Millisecond})
	start := time.Now()
	_, err := a.Analyze(context.Background(), src)
	if !errors.Is(err, ErrAnalyzerTimeout) {
		t.Fatalf("err = %v, want ErrAnalyzerTimeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestAnalyze_Canceled(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fake", "exec sleep 10")
	src := writeSource(t, dir, "")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := New(Options{Command: script, WaitDelay: 100 * time.Millisecond}).Analyze(ctx, src)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAnalyze_SolcSelect(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(doc, []byte(factsDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	selected := filepath.Join(dir, "selected")
	selectScript := writeScript(t, dir, "solc-select", `echo "$@" > `+selected)
	script := writeScript(t, dir, "fake", "cat "+doc)
	src := writeSource(t, dir, "pragma solidity >=0.6.2 <0.8.0;")

	a := New(Options{Command: script, SolcSelect: true, SolcSelectCommand: selectScript})
	if _, err := a.Analyze(context.Background(), src); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got, err := os.ReadFile(selected)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(got)) != "use 0.6.2" {
		t.Errorf("solc-select args = %q", got)
	}
}

func TestAnalyze_SolcSelectFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(doc, []byte(factsDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	selectScript := writeScript(t, dir, "solc-select", "exit 1")
	script := writeScript(t, dir, "fake", "cat "+doc)
	src := writeSource(t, dir, "")

	a := New(Options{Command: script, SolcSelect: true, SolcSelectCommand: selectScript})
	if _, err := a.Analyze(context.Background(), src); err != nil {
		t.Errorf("Analyze: %v", err)
	}
}

func TestAnalyze_MissingSource(t *testing.T) {
	_, err := New(Options{}).Analyze(context.Background(), filepath.Join(t.TempDir(), "nope.sol"))
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Errorf("err = %v, want ErrAnalysisFailed", err)
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if b.String() != "defg" {
		t.Errorf("tail = %q, want defg", b.String())
	}
}
