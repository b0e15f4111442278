// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package evals scores agent traces against pluggable quality evaluators.
//
// An Evaluator inspects a single assembled trace and produces named scores
// in [0, 1]. The Runner fans evaluators out over traces with bounded
// concurrency, composes weighted overall scores, and aggregates batch
// summaries with confidence intervals and baseline comparison.
package evals

import (
	"context"
	"time"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// Evaluator scores one trace. Implementations must be safe for concurrent
// use and must derive results only from the trace and any configured judge
// calls, so repeated evaluation of the same trace is reproducible.
type Evaluator interface {
	// Name is the evaluator's registry name, unique within its namespace.
	Name() string
	// Description is a one-line human summary of what the evaluator checks.
	Description() string
	// Evaluate scores the trace. A returned error means the evaluator could
	// not produce a result at all; partial problems belong in Result.Errors.
	Evaluate(ctx context.Context, tr *trace.Trace) (*Result, error)
}

// Score is a single named measurement in [0, 1]. When Threshold is set,
// Passed reports whether the value clears it; without a threshold the score
// is informational and always passes.
type Score struct {
	Name      string   `json:"name"`
	Value     float64  `json:"value"`
	Threshold *float64 `json:"threshold,omitempty"`
	Passed    bool     `json:"passed"`
}

// NewScore builds an informational score with no threshold.
func NewScore(name string, value float64) Score {
	return Score{Name: name, Value: value, Passed: true}
}

// NewThresholdScore builds a score that passes when value >= threshold.
func NewThresholdScore(name string, value, threshold float64) Score {
	return Score{Name: name, Value: value, Threshold: &threshold, Passed: value >= threshold}
}

// Result is the outcome of one evaluator run on one trace.
type Result struct {
	EvaluatorName string            `json:"evaluator_name"`
	Scores        map[string]Score  `json:"scores"`
	Feedback      string            `json:"feedback,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Errors        []string          `json:"errors,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// NewResult starts a result for the named evaluator.
func NewResult(evaluatorName string) *Result {
	return &Result{
		EvaluatorName: evaluatorName,
		Scores:        make(map[string]Score),
		StartedAt:     time.Now().UTC(),
	}
}

// AddScore records a score under its name.
func (r *Result) AddScore(s Score) {
	if r.Scores == nil {
		r.Scores = make(map[string]Score)
	}
	r.Scores[s.Name] = s
}

// Finish stamps the completion time and returns the result for chaining.
func (r *Result) Finish() *Result {
	r.FinishedAt = time.Now().UTC()
	return r
}

// AllPassed reports whether every score cleared its threshold.
func (r *Result) AllPassed() bool {
	for _, s := range r.Scores {
		if !s.Passed {
			return false
		}
	}
	return true
}

// MeanScore is the arithmetic mean of the result's score values, zero when
// the result carries no scores.
func (r *Result) MeanScore() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range r.Scores {
		sum += s.Value
	}
	return sum / float64(len(r.Scores))
}

// EvalError attributes a failure to the evaluator that raised it.
type EvalError struct {
	Evaluator string `json:"evaluator"`
	Message   string `json:"message"`
}

// TraceEvaluation aggregates all evaluator results for one trace.
type TraceEvaluation struct {
	TraceID      string      `json:"trace_id"`
	Results      []*Result   `json:"results"`
	OverallScore float64     `json:"overall_score"`
	Passed       bool        `json:"passed"`
	DurationMS   int64       `json:"duration_ms"`
	Errors       []EvalError `json:"errors,omitempty"`
}

// Result returns the named evaluator's result, or nil.
func (te *TraceEvaluation) Result(evaluatorName string) *Result {
	for _, r := range te.Results {
		if r.EvaluatorName == evaluatorName {
			return r
		}
	}
	return nil
}

// Summary aggregates a batch of trace evaluations. PassRate, MeanScores and
// ScoreDistributions are nil for an empty batch rather than zero-valued, so
// "no data" is distinguishable from "all failures".
type Summary struct {
	Total              int                  `json:"total"`
	Passed             int                  `json:"passed"`
	Failed             int                  `json:"failed"`
	Error              int                  `json:"error"`
	PassRate           *float64             `json:"pass_rate"`
	MeanScores         map[string]float64   `json:"mean_scores,omitempty"`
	ScoreDistributions map[string][]float64 `json:"score_distributions,omitempty"`
}

// BatchEvaluation is the result of evaluating a set of traces.
type BatchEvaluation struct {
	Evaluations []*TraceEvaluation `json:"evaluations"`
	Summary     Summary            `json:"summary"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}
