// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs the AFU extraction stages over batches of units.
//
// A unit is one source file. The graph stage turns each unit's facts (read
// from a fact file, or produced by the analyzer) into a graph artifact. The
// combine stage turns each graph artifact and its companion text into an
// AFU artifact. Units are independent: a failure is recorded in the batch
// report and never aborts the rest of the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianAFU/services/afu/analyzer"
	"github.com/AleutianAI/AleutianAFU/services/afu/combine"
	"github.com/AleutianAI/AleutianAFU/services/afu/facts"
	"github.com/AleutianAI/AleutianAFU/services/afu/graph"
)

// ReasonCode classifies the outcome of one unit.
type ReasonCode string

const (
	ReasonOK                   ReasonCode = "ok"
	ReasonAnalysisFailure      ReasonCode = "analysis_failure"
	ReasonAnalyzerTimeout      ReasonCode = "analyzer_timeout"
	ReasonMalformedLineSpan    ReasonCode = "malformed_line_span"
	ReasonInvalidFacts         ReasonCode = "invalid_facts"
	ReasonSerializationFailure ReasonCode = "serialization_failure"
	ReasonMissingCompanion     ReasonCode = "missing_companion"
	ReasonCombineFailure       ReasonCode = "combine_failure"
	ReasonCanceled             ReasonCode = "canceled"
)

// ErrSerialization marks a failure to write a unit's graph artifact or
// snapshot.
var ErrSerialization = errors.New("serialization failure")

// Classify maps a unit error to its reason code. A nil error is ReasonOK.
// Errors matching no known sentinel fall back to the stage's generic
// failure code.
func Classify(stage Stage, err error) ReasonCode {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, analyzer.ErrAnalyzerTimeout):
		return ReasonAnalyzerTimeout
	case errors.Is(err, analyzer.ErrAnalysisFailed):
		return ReasonAnalysisFailure
	case errors.Is(err, graph.ErrMalformedLineSpan):
		return ReasonMalformedLineSpan
	case errors.Is(err, facts.ErrInvalidFacts):
		return ReasonInvalidFacts
	case errors.Is(err, combine.ErrMissingCompanion):
		return ReasonMissingCompanion
	case errors.Is(err, graph.ErrInvalidArtifact), errors.Is(err, ErrSerialization):
		return ReasonSerializationFailure
	}
	if stage == StageCombine {
		return ReasonCombineFailure
	}
	return ReasonAnalysisFailure
}

// UnitError is a failure scoped to one unit and stage.
type UnitError struct {
	Unit  string
	Stage Stage
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Unit, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}
