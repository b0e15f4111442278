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
// Package builtin ships heuristic evaluators that need no judge: structural
// checks computable from the trace alone.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/agenttrace/agenttrace/pkg/evals"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

// Namespace is where the built-in evaluators register.
const Namespace = "builtin"

// RegisterAll adds the built-in evaluators to the registry with their
// default settings.
func RegisterAll(r *evals.Registry) error {
	for _, e := range []evals.Evaluator{
		NewCompleteness(0.5),
		NewLatency(30*time.Second, 5*time.Minute),
		NewToolErrorRate(0.25),
	} {
		if err := r.Register(Namespace, e); err != nil {
			return err
		}
	}
	return nil
}

// Completeness checks that the agent finished cleanly: the root span closed
// with status ok and produced a non-empty output.
type Completeness struct {
	threshold float64
}

// NewCompleteness creates the evaluator with a pass threshold on its score.
func NewCompleteness(threshold float64) *Completeness {
	return &Completeness{threshold: threshold}
}

func (c *Completeness) Name() string { return "completeness" }

func (c *Completeness) Description() string {
	return "checks the trace closed cleanly with a final answer"
}

func (c *Completeness) Evaluate(_ context.Context, tr *trace.Trace) (*evals.Result, error) {
	result := evals.NewResult(c.Name())
	root := tr.Root()

	score := 0.0
	switch {
	case root.Status == trace.StatusOK && root.Output != "":
		score = 1.0
	case root.Status == trace.StatusOK:
		score = 0.5
		result.Feedback = "trace completed but produced no output"
	case root.Status == trace.StatusCancelled:
		result.Feedback = "trace was cancelled before completing"
	default:
		result.Feedback = "root span ended in error"
		if root.Error != nil {
			result.Feedback = fmt.Sprintf("root span ended in error: %s", root.Error.Message)
		}
	}

	result.AddScore(evals.NewThresholdScore("completeness", score, c.threshold))
	return result.Finish(), nil
}

// Latency scores total trace duration on a linear ramp: full marks at or
// under the target, zero at or over the limit.
type Latency struct {
	target time.Duration
	limit  time.Duration
}

// NewLatency creates the evaluator. limit must exceed target.
func NewLatency(target, limit time.Duration) *Latency {
	return &Latency{target: target, limit: limit}
}

func (l *Latency) Name() string { return "latency" }

func (l *Latency) Description() string {
	return "scores end-to-end trace duration against a target"
}

func (l *Latency) Evaluate(_ context.Context, tr *trace.Trace) (*evals.Result, error) {
	result := evals.NewResult(l.Name())
	d := tr.Root().Duration()

	var score float64
	switch {
	case d <= l.target:
		score = 1.0
	case d >= l.limit:
		score = 0.0
	default:
		score = 1 - float64(d-l.target)/float64(l.limit-l.target)
	}

	result.AddScore(evals.NewScore("latency", score))
	result.Metadata = map[string]any{"duration_ms": d.Milliseconds()}
	return result.Finish(), nil
}

// ToolErrorRate scores the fraction of tool calls that succeeded. Traces
// without tool calls score full marks.
type ToolErrorRate struct {
	maxErrorRate float64
}

// NewToolErrorRate creates the evaluator; the score passes while the error
// rate stays at or under maxErrorRate.
func NewToolErrorRate(maxErrorRate float64) *ToolErrorRate {
	return &ToolErrorRate{maxErrorRate: maxErrorRate}
}

func (t *ToolErrorRate) Name() string { return "tool_error_rate" }

func (t *ToolErrorRate) Description() string {
	return "scores the success rate of tool invocations"
}

func (t *ToolErrorRate) Evaluate(_ context.Context, tr *trace.Trace) (*evals.Result, error) {
	result := evals.NewResult(t.Name())

	tools := tr.SpansOfKind(trace.KindToolCall)
	failed := 0
	for _, s := range tools {
		if s.Status == trace.StatusError {
			failed++
		}
	}

	score := 1.0
	if len(tools) > 0 {
		rate := float64(failed) / float64(len(tools))
		score = 1 - rate
		if rate > t.maxErrorRate {
			result.Feedback = fmt.Sprintf("%d of %d tool calls failed", failed, len(tools))
		}
	}

	result.AddScore(evals.NewThresholdScore("tool_success", score, 1-t.maxErrorRate))
	result.Metadata = map[string]any{"tool_calls": len(tools), "tool_errors": failed}
	return result.Finish(), nil
}
