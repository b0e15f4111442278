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
	"sort"
)

// Significance level for baseline hypothesis tests, before Bonferroni
// correction.
const baselineAlpha = 0.05

// ScoreChange is the movement of one score between two runs of the same
// trace and evaluator.
type ScoreChange struct {
	TraceID       string   `json:"trace_id"`
	Evaluator     string   `json:"evaluator"`
	ScoreName     string   `json:"score_name"`
	Current       float64  `json:"current"`
	Baseline      float64  `json:"baseline"`
	Delta         float64  `json:"delta"`
	PercentChange *float64 `json:"percent_change,omitempty"`
}

// EvaluatorTest is a per-evaluator Welch's t-test over overall scores of
// traces shared by both runs, with a Bonferroni-corrected significance
// threshold.
type EvaluatorTest struct {
	Evaluator   string  `json:"evaluator"`
	Test        *WelchT `json:"test,omitempty"`
	Alpha       float64 `json:"alpha"`
	Significant bool    `json:"significant"`
}

// BaselineComparison reports how a batch moved relative to a baseline run.
type BaselineComparison struct {
	Threshold    float64         `json:"threshold"`
	Regressions  []ScoreChange   `json:"regressions,omitempty"`
	Improvements []ScoreChange   `json:"improvements,omitempty"`
	Unchanged    []ScoreChange   `json:"unchanged,omitempty"`
	EffectSize   float64         `json:"effect_size"`
	OverallCI    *Interval       `json:"overall_ci,omitempty"`
	Tests        []EvaluatorTest `json:"tests,omitempty"`
}

// HasRegressions reports whether any score regressed past the threshold.
func (c *BaselineComparison) HasRegressions() bool {
	return len(c.Regressions) > 0
}

// CompareToBaseline diffs each (trace, evaluator, score) present in both
// batches. A change counts as a regression when delta <= -threshold*baseline
// and as an improvement when delta >= +threshold*baseline. It also reports
// Cohen's d over paired overall scores and per-evaluator Welch's t-tests
// with Bonferroni correction.
func CompareToBaseline(current, baseline *BatchEvaluation, threshold float64) *BaselineComparison {
	cmp := &BaselineComparison{Threshold: threshold}

	baselineByTrace := make(map[string]*TraceEvaluation, len(baseline.Evaluations))
	for _, te := range baseline.Evaluations {
		baselineByTrace[te.TraceID] = te
	}

	var pairedCurrent, pairedBaseline []float64
	evaluatorCurrent := make(map[string][]float64)
	evaluatorBaseline := make(map[string][]float64)

	for _, cur := range current.Evaluations {
		base, ok := baselineByTrace[cur.TraceID]
		if !ok {
			continue
		}
		pairedCurrent = append(pairedCurrent, cur.OverallScore)
		pairedBaseline = append(pairedBaseline, base.OverallScore)

		for _, curRes := range cur.Results {
			baseRes := base.Result(curRes.EvaluatorName)
			if baseRes == nil {
				continue
			}
			evaluatorCurrent[curRes.EvaluatorName] = append(evaluatorCurrent[curRes.EvaluatorName], curRes.MeanScore())
			evaluatorBaseline[curRes.EvaluatorName] = append(evaluatorBaseline[curRes.EvaluatorName], baseRes.MeanScore())

			names := make([]string, 0, len(curRes.Scores))
			for name := range curRes.Scores {
				if _, shared := baseRes.Scores[name]; shared {
					names = append(names, name)
				}
			}
			sort.Strings(names)

			for _, name := range names {
				change := scoreChange(cur.TraceID, curRes.EvaluatorName, name,
					curRes.Scores[name].Value, baseRes.Scores[name].Value)
				switch classify(change.Delta, change.Baseline, threshold) {
				case -1:
					cmp.Regressions = append(cmp.Regressions, change)
				case 1:
					cmp.Improvements = append(cmp.Improvements, change)
				default:
					cmp.Unchanged = append(cmp.Unchanged, change)
				}
			}
		}
	}

	cmp.EffectSize = CohensD(pairedCurrent, pairedBaseline)
	cmp.OverallCI = BootstrapCI(pairedCurrent)
	cmp.Tests = evaluatorTests(evaluatorCurrent, evaluatorBaseline)
	return cmp
}

func scoreChange(traceID, evaluator, name string, current, baseline float64) ScoreChange {
	change := ScoreChange{
		TraceID:   traceID,
		Evaluator: evaluator,
		ScoreName: name,
		Current:   current,
		Baseline:  baseline,
		Delta:     current - baseline,
	}
	// Percent change is undefined against a zero baseline.
	if baseline != 0 {
		pct := 100 * change.Delta / baseline
		change.PercentChange = &pct
	}
	return change
}

// classify returns -1 for regression, 1 for improvement, 0 otherwise. A
// zero baseline only moves on its absolute delta sign, since the relative
// band collapses to a point.
func classify(delta, baseline, threshold float64) int {
	band := threshold * baseline
	if band < 0 {
		band = -band
	}
	if band == 0 {
		switch {
		case delta < 0:
			return -1
		case delta > 0:
			return 1
		default:
			return 0
		}
	}
	switch {
	case delta <= -band:
		return -1
	case delta >= band:
		return 1
	default:
		return 0
	}
}

// evaluatorTests runs a Welch's t-test per evaluator, splitting the
// significance level across the m evaluators tested.
func evaluatorTests(current, baseline map[string][]float64) []EvaluatorTest {
	names := make([]string, 0, len(current))
	for name := range current {
		if _, ok := baseline[name]; ok {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	alpha := baselineAlpha / float64(len(names))
	tests := make([]EvaluatorTest, 0, len(names))
	for _, name := range names {
		test := EvaluatorTest{
			Evaluator: name,
			Test:      WelchTTest(current[name], baseline[name]),
			Alpha:     alpha,
		}
		test.Significant = test.Test != nil && test.Test.PValue < alpha
		tests = append(tests, test)
	}
	return tests
}
