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
package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenttrace/agenttrace/pkg/evals"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

const judgeSystemPrompt = `You are an impartial evaluator of AI agent executions.
Score strictly against the criteria given. Reply with a JSON object:
{"score": <0.0-1.0>, "reasoning": "<one short paragraph>", "confidence": <0.0-1.0>}`

// EvaluatorConfig describes one judge-backed evaluator.
type EvaluatorConfig struct {
	// Name is the evaluator's registry name.
	Name string
	// Description summarizes what the criteria measure.
	Description string
	// Criteria is the rubric shown to the judge.
	Criteria string
	// ScoreName names the produced score; defaults to Name.
	ScoreName string
	// Threshold, when set, gates pass/fail on the judge's score.
	Threshold *float64
	// MaxTranscript caps the transcript excerpt shown to the judge.
	MaxTranscript int
}

// Evaluator scores traces by asking an LLM judge to grade the agent's
// transcript against a rubric.
type Evaluator struct {
	cfg    EvaluatorConfig
	client *Client
}

var _ evals.Evaluator = (*Evaluator)(nil)

// NewEvaluator builds a judge-backed evaluator.
func NewEvaluator(client *Client, cfg EvaluatorConfig) *Evaluator {
	if cfg.ScoreName == "" {
		cfg.ScoreName = cfg.Name
	}
	if cfg.MaxTranscript <= 0 {
		cfg.MaxTranscript = 8000
	}
	return &Evaluator{cfg: cfg, client: client}
}

// Name implements evals.Evaluator.
func (e *Evaluator) Name() string { return e.cfg.Name }

// Description implements evals.Evaluator.
func (e *Evaluator) Description() string { return e.cfg.Description }

// Evaluate implements evals.Evaluator.
func (e *Evaluator) Evaluate(ctx context.Context, tr *trace.Trace) (*evals.Result, error) {
	result := evals.NewResult(e.cfg.Name)

	verdict, err := e.client.Judge(ctx, Request{
		System: judgeSystemPrompt,
		Prompt: e.buildPrompt(tr),
	})
	if err != nil {
		return nil, err
	}

	if e.cfg.Threshold != nil {
		result.AddScore(evals.NewThresholdScore(e.cfg.ScoreName, verdict.Score, *e.cfg.Threshold))
	} else {
		result.AddScore(evals.NewScore(e.cfg.ScoreName, verdict.Score))
	}
	result.Feedback = verdict.Reasoning
	result.Metadata = map[string]any{
		"judge_model":  e.client.provider.Model(),
		"judge_cached": verdict.Cached,
	}
	if verdict.Confidence != nil {
		result.Metadata["judge_confidence"] = *verdict.Confidence
	}
	return result.Finish(), nil
}

// buildPrompt renders the trace as a transcript the judge can grade: the
// task, the final answer, and the tool calls in between.
func (e *Evaluator) buildPrompt(tr *trace.Trace) string {
	var b strings.Builder
	b.WriteString("## Criteria\n")
	b.WriteString(e.cfg.Criteria)
	b.WriteString("\n\n## Agent execution\n")

	root := tr.Root()
	if root != nil && root.Input != "" {
		fmt.Fprintf(&b, "Task: %s\n", root.Input)
	}

	for _, s := range tr.SpansOfKind(trace.KindToolCall) {
		name, _ := s.Attributes["tool.name"].(string)
		if name == "" {
			name = s.Name
		}
		status := string(s.Status)
		fmt.Fprintf(&b, "Tool %s (%s)", name, status)
		if res, ok := s.Attributes["tool.result"].(string); ok && res != "" {
			fmt.Fprintf(&b, ": %s", truncate(res, 500))
		}
		b.WriteByte('\n')
	}

	if root != nil && root.Output != "" {
		fmt.Fprintf(&b, "Final answer: %s\n", root.Output)
	}

	prompt := b.String()
	if len(prompt) > e.cfg.MaxTranscript {
		prompt = prompt[:e.cfg.MaxTranscript]
	}
	return prompt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
