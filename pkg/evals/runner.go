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
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

// Default runner settings.
const (
	DefaultMaxConcurrency  = 4
	DefaultTimeoutPerTrace = 2 * time.Minute
)

// RunnerConfig controls how the runner schedules evaluators.
type RunnerConfig struct {
	// MaxConcurrency bounds parallel evaluators within a trace and parallel
	// traces within a batch.
	MaxConcurrency int
	// TimeoutPerTrace bounds the wall time of one trace's evaluation.
	TimeoutPerTrace time.Duration
	// ContinueOnError keeps sibling evaluators running after one fails.
	// When false the first failure cancels the rest.
	ContinueOnError bool
	// RequiredEvaluators are evaluator names that must run and pass their
	// thresholds for a trace to pass.
	RequiredEvaluators []string
	// ScoreWeights weights each evaluator's mean score in the overall
	// composite. Unlisted evaluators weigh 1.0.
	ScoreWeights map[string]float64
}

func (c *RunnerConfig) applyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.TimeoutPerTrace <= 0 {
		c.TimeoutPerTrace = DefaultTimeoutPerTrace
	}
}

// ProgressFunc is invoked after each trace in a batch completes.
type ProgressFunc func(completed, total int)

// Runner executes evaluators over traces with bounded concurrency.
type Runner struct {
	cfg      RunnerConfig
	registry *Registry
}

// NewRunner creates a runner backed by the given registry. A nil registry
// uses the process-wide default.
func NewRunner(cfg RunnerConfig, registry *Registry) *Runner {
	cfg.applyDefaults()
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Runner{cfg: cfg, registry: registry}
}

func (r *Runner) weight(evaluatorName string) float64 {
	if w, ok := r.cfg.ScoreWeights[evaluatorName]; ok && w > 0 {
		return w
	}
	return 1.0
}

// EvaluateTrace runs the given evaluators against one trace. A nil evaluator
// slice runs everything in the registry. Evaluator failures are recorded in
// the evaluation's errors, never retried.
func (r *Runner) EvaluateTrace(ctx context.Context, tr *trace.Trace, evaluators []Evaluator) *TraceEvaluation {
	if evaluators == nil {
		for _, key := range r.registry.Keys() {
			e, err := r.registry.Get(key)
			if err == nil {
				evaluators = append(evaluators, e)
			}
		}
	}

	start := time.Now()
	te := &TraceEvaluation{TraceID: tr.TraceID}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.TimeoutPerTrace)
	defer cancel()

	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrency))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, e := range evaluators {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Deadline hit or a failed peer cancelled us before this
			// evaluator could start.
			mu.Lock()
			te.Errors = append(te.Errors, EvalError{Evaluator: e.Name(), Message: err.Error()})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(e Evaluator) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := r.runOne(ctx, e, tr)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				te.Errors = append(te.Errors, EvalError{Evaluator: e.Name(), Message: err.Error()})
				log.Debug("evaluator failed",
					zap.String("evaluator", e.Name()),
					zap.String("trace_id", tr.TraceID),
					zap.Error(err))
				if !r.cfg.ContinueOnError {
					cancel()
				}
				return
			}
			te.Results = append(te.Results, result)
		}(e)
	}
	wg.Wait()

	sort.Slice(te.Results, func(i, j int) bool {
		return te.Results[i].EvaluatorName < te.Results[j].EvaluatorName
	})
	sort.Slice(te.Errors, func(i, j int) bool {
		return te.Errors[i].Evaluator < te.Errors[j].Evaluator
	})

	te.OverallScore = r.overallScore(te.Results)
	te.Passed = r.passed(te)
	te.DurationMS = time.Since(start).Milliseconds()
	return te
}

// runOne invokes a single evaluator, converting panics and nil results into
// errors so one bad evaluator cannot take down the run.
func (r *Runner) runOne(ctx context.Context, e Evaluator, tr *trace.Trace) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("evaluator panicked: %v", rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err = e.Evaluate(ctx, tr)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("evaluator returned no result")
	}
	if result.EvaluatorName == "" {
		result.EvaluatorName = e.Name()
	}
	if result.FinishedAt.IsZero() {
		result.Finish()
	}
	return result, nil
}

// overallScore is the weighted mean of per-evaluator mean scores over the
// evaluators that produced a result.
func (r *Runner) overallScore(results []*Result) float64 {
	var weighted, total float64
	for _, res := range results {
		w := r.weight(res.EvaluatorName)
		weighted += w * res.MeanScore()
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// passed requires every configured evaluator to have produced a passing
// result with no errors, and every required evaluator to be present.
func (r *Runner) passed(te *TraceEvaluation) bool {
	if len(te.Errors) > 0 {
		return false
	}
	for _, name := range r.cfg.RequiredEvaluators {
		res := te.Result(name)
		if res == nil || !res.AllPassed() {
			return false
		}
	}
	for _, res := range te.Results {
		if !res.AllPassed() {
			return false
		}
	}
	return len(te.Results) > 0
}

// EvaluateBatch evaluates traces concurrently, bounded by MaxConcurrency at
// the trace level. The progress callback, when non-nil, is invoked after
// each trace with the completed and total counts.
func (r *Runner) EvaluateBatch(ctx context.Context, traces []*trace.Trace, evaluators []Evaluator, progress ProgressFunc) *BatchEvaluation {
	batch := &BatchEvaluation{
		Evaluations: make([]*TraceEvaluation, len(traces)),
		StartedAt:   time.Now().UTC(),
	}

	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrency))
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed int
	)

	for i, tr := range traces {
		if err := sem.Acquire(ctx, 1); err != nil {
			batch.Evaluations[i] = &TraceEvaluation{
				TraceID: tr.TraceID,
				Errors:  []EvalError{{Evaluator: "runner", Message: err.Error()}},
			}
			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if progress != nil {
				progress(done, len(traces))
			}
			continue
		}

		wg.Add(1)
		go func(i int, tr *trace.Trace) {
			defer wg.Done()
			defer sem.Release(1)

			batch.Evaluations[i] = r.EvaluateTrace(ctx, tr, evaluators)

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if progress != nil {
				progress(done, len(traces))
			}
		}(i, tr)
	}
	wg.Wait()

	batch.Summary = summarize(batch.Evaluations)
	batch.FinishedAt = time.Now().UTC()
	return batch
}

// summarize aggregates pass counts and per-score distributions. The pass
// rate and score maps stay nil for an empty batch.
func summarize(evaluations []*TraceEvaluation) Summary {
	s := Summary{Total: len(evaluations)}
	if s.Total == 0 {
		return s
	}

	distributions := make(map[string][]float64)
	for _, te := range evaluations {
		switch {
		case len(te.Errors) > 0 && len(te.Results) == 0:
			s.Error++
		case te.Passed:
			s.Passed++
		default:
			s.Failed++
		}

		for _, res := range te.Results {
			names := make([]string, 0, len(res.Scores))
			for name := range res.Scores {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				distributions[name] = append(distributions[name], res.Scores[name].Value)
			}
		}
	}

	rate := float64(s.Passed) / float64(s.Total)
	s.PassRate = &rate

	if len(distributions) > 0 {
		s.ScoreDistributions = distributions
		s.MeanScores = make(map[string]float64, len(distributions))
		for name, values := range distributions {
			s.MeanScores[name] = Mean(values)
		}
	}
	return s
}
