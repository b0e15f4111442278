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
package evals

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

type stubEvaluator struct {
	name string
	fn   func(ctx context.Context, tr *trace.Trace) (*Result, error)
}

func (s *stubEvaluator) Name() string        { return s.name }
func (s *stubEvaluator) Description() string { return "stub" }
func (s *stubEvaluator) Evaluate(ctx context.Context, tr *trace.Trace) (*Result, error) {
	return s.fn(ctx, tr)
}

// scorer returns an evaluator producing one thresholded score per trace ID.
func scorer(name string, threshold float64, byTrace map[string]float64) Evaluator {
	return &stubEvaluator{name: name, fn: func(_ context.Context, tr *trace.Trace) (*Result, error) {
		r := NewResult(name)
		r.AddScore(NewThresholdScore(name, byTrace[tr.TraceID], threshold))
		return r.Finish(), nil
	}}
}

// plainScorer returns an evaluator producing one informational score.
func plainScorer(name string, byTrace map[string]float64) Evaluator {
	return &stubEvaluator{name: name, fn: func(_ context.Context, tr *trace.Trace) (*Result, error) {
		r := NewResult(name)
		r.AddScore(NewScore(name, byTrace[tr.TraceID]))
		return r.Finish(), nil
	}}
}

func testTrace(t *testing.T, traceID string) *trace.Trace {
	t.Helper()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tr, err := trace.Assemble([]*trace.Span{{
		SpanID:    traceID + "-root",
		TraceID:   traceID,
		Kind:      trace.KindAgent,
		Name:      "agent.run",
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		Status:    trace.StatusOK,
		Output:    "done",
	}})
	require.NoError(t, err)
	return tr
}

func TestEvaluateBatchWeightedScoresAndPassRate(t *testing.T) {
	completeness := map[string]float64{"t1": 0.9, "t2": 0.6, "t3": 0.85}
	latency := map[string]float64{"t1": 0.8, "t2": 0.9, "t3": 0.7}

	runner := NewRunner(RunnerConfig{
		ContinueOnError:    true,
		RequiredEvaluators: []string{"completeness"},
	}, NewRegistry())

	traces := []*trace.Trace{testTrace(t, "t1"), testTrace(t, "t2"), testTrace(t, "t3")}
	evaluators := []Evaluator{
		scorer("completeness", 0.7, completeness),
		plainScorer("latency", latency),
	}

	batch := runner.EvaluateBatch(context.Background(), traces, evaluators, nil)

	require.Len(t, batch.Evaluations, 3)
	byTrace := make(map[string]*TraceEvaluation)
	for _, te := range batch.Evaluations {
		byTrace[te.TraceID] = te
	}

	assert.True(t, byTrace["t1"].Passed)
	assert.False(t, byTrace["t2"].Passed, "t2 misses the required completeness threshold")
	assert.True(t, byTrace["t3"].Passed)

	assert.InDelta(t, (0.9+0.8)/2, byTrace["t1"].OverallScore, 1e-9)
	assert.InDelta(t, (0.6+0.9)/2, byTrace["t2"].OverallScore, 1e-9)
	assert.InDelta(t, (0.85+0.7)/2, byTrace["t3"].OverallScore, 1e-9)

	require.NotNil(t, batch.Summary.PassRate)
	assert.InDelta(t, 2.0/3.0, *batch.Summary.PassRate, 1e-9)
	assert.Equal(t, 3, batch.Summary.Total)
	assert.Equal(t, 2, batch.Summary.Passed)
	assert.Equal(t, 1, batch.Summary.Failed)

	assert.InDelta(t, (0.9+0.6+0.85)/3, batch.Summary.MeanScores["completeness"], 1e-9)
	assert.Len(t, batch.Summary.ScoreDistributions["latency"], 3)
}

func TestEvaluateTraceAppliesScoreWeights(t *testing.T) {
	runner := NewRunner(RunnerConfig{
		ScoreWeights: map[string]float64{"a": 3, "b": 1},
	}, NewRegistry())

	tr := testTrace(t, "t1")
	te := runner.EvaluateTrace(context.Background(), tr, []Evaluator{
		plainScorer("a", map[string]float64{"t1": 1.0}),
		plainScorer("b", map[string]float64{"t1": 0.0}),
	})

	assert.InDelta(t, 0.75, te.OverallScore, 1e-9)
	assert.True(t, te.Passed)
}

func TestEvaluateTraceRecordsEvaluatorError(t *testing.T) {
	runner := NewRunner(RunnerConfig{ContinueOnError: true}, NewRegistry())

	tr := testTrace(t, "t1")
	te := runner.EvaluateTrace(context.Background(), tr, []Evaluator{
		plainScorer("ok", map[string]float64{"t1": 0.9}),
		&stubEvaluator{name: "broken", fn: func(context.Context, *trace.Trace) (*Result, error) {
			return nil, errors.New("judge unavailable")
		}},
	})

	require.Len(t, te.Errors, 1)
	assert.Equal(t, "broken", te.Errors[0].Evaluator)
	assert.False(t, te.Passed)

	// The healthy evaluator still contributes its result.
	require.Len(t, te.Results, 1)
	assert.InDelta(t, 0.9, te.OverallScore, 1e-9)
}

func TestEvaluateTraceFailFastCancelsPeers(t *testing.T) {
	runner := NewRunner(RunnerConfig{MaxConcurrency: 1, ContinueOnError: false}, NewRegistry())

	var ranAfterFailure atomic.Bool
	tr := testTrace(t, "t1")
	te := runner.EvaluateTrace(context.Background(), tr, []Evaluator{
		&stubEvaluator{name: "a-fails", fn: func(context.Context, *trace.Trace) (*Result, error) {
			return nil, errors.New("boom")
		}},
		&stubEvaluator{name: "b-after", fn: func(ctx context.Context, _ *trace.Trace) (*Result, error) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ranAfterFailure.Store(true)
			r := NewResult("b-after")
			r.AddScore(NewScore("b", 1))
			return r.Finish(), nil
		}},
	})

	assert.False(t, te.Passed)
	assert.False(t, ranAfterFailure.Load(), "peer should have been cancelled")
	assert.NotEmpty(t, te.Errors)
}

func TestEvaluateTraceTimeout(t *testing.T) {
	runner := NewRunner(RunnerConfig{TimeoutPerTrace: 20 * time.Millisecond}, NewRegistry())

	tr := testTrace(t, "t1")
	te := runner.EvaluateTrace(context.Background(), tr, []Evaluator{
		&stubEvaluator{name: "slow", fn: func(ctx context.Context, _ *trace.Trace) (*Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return NewResult("slow").Finish(), nil
			}
		}},
	})

	assert.False(t, te.Passed)
	require.Len(t, te.Errors, 1)
	assert.Equal(t, "slow", te.Errors[0].Evaluator)
}

func TestEvaluateTraceRecoversPanic(t *testing.T) {
	runner := NewRunner(RunnerConfig{ContinueOnError: true}, NewRegistry())

	tr := testTrace(t, "t1")
	te := runner.EvaluateTrace(context.Background(), tr, []Evaluator{
		&stubEvaluator{name: "panics", fn: func(context.Context, *trace.Trace) (*Result, error) {
			panic("nil map write")
		}},
	})

	require.Len(t, te.Errors, 1)
	assert.Contains(t, te.Errors[0].Message, "panicked")
}

func TestEvaluateBatchEmpty(t *testing.T) {
	runner := NewRunner(RunnerConfig{}, NewRegistry())
	batch := runner.EvaluateBatch(context.Background(), nil, nil, nil)

	assert.Equal(t, 0, batch.Summary.Total)
	assert.Nil(t, batch.Summary.PassRate)
	assert.Nil(t, batch.Summary.MeanScores)
	assert.Nil(t, batch.Summary.ScoreDistributions)
}

func TestEvaluateBatchProgress(t *testing.T) {
	runner := NewRunner(RunnerConfig{MaxConcurrency: 2}, NewRegistry())

	traces := []*trace.Trace{testTrace(t, "t1"), testTrace(t, "t2"), testTrace(t, "t3")}
	scores := map[string]float64{"t1": 1, "t2": 1, "t3": 1}

	var calls atomic.Int64
	var sawTotal atomic.Int64
	batch := runner.EvaluateBatch(context.Background(), traces, []Evaluator{plainScorer("s", scores)},
		func(completed, total int) {
			calls.Add(1)
			sawTotal.Store(int64(total))
		})

	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(3), sawTotal.Load())
	assert.Equal(t, 3, batch.Summary.Passed)
}

func TestEvaluateTraceUsesRegistryWhenNoEvaluatorsGiven(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("test", plainScorer("fromreg", map[string]float64{"t1": 0.5})))

	runner := NewRunner(RunnerConfig{}, registry)
	te := runner.EvaluateTrace(context.Background(), testTrace(t, "t1"), nil)

	require.Len(t, te.Results, 1)
	assert.Equal(t, "fromreg", te.Results[0].EvaluatorName)
}
