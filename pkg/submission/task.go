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
package submission

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Task execution defaults.
const (
	DefaultTaskTimeLimit  = 60 * time.Second
	DefaultTokenBudget    = 8192
	DefaultTaskMaxRetries = 2
	// DefaultTokenizer approximates token counts across providers; the
	// tokenizer actually used is recorded in the execution.
	DefaultTokenizer = "cl100k_base"
)

// Task is one benchmark item an agent must solve.
type Task struct {
	TaskID   string `json:"task_id" yaml:"task_id"`
	Category string `json:"category" yaml:"category"`
	Prompt   string `json:"prompt" yaml:"prompt"`

	TimeLimitSeconds int               `json:"time_limit_seconds,omitempty" yaml:"time_limit_seconds"`
	TokenBudget      int               `json:"token_budget,omitempty" yaml:"token_budget"`
	Metadata         map[string]string `json:"metadata,omitempty" yaml:"metadata"`

	// Evaluation criteria; the task score is the satisfied fraction.
	ExpectedContains    []string `json:"expected_contains,omitempty" yaml:"expected_contains"`
	ExpectedNotContains []string `json:"expected_not_contains,omitempty" yaml:"expected_not_contains"`
	ExpectedRegex       string   `json:"expected_regex,omitempty" yaml:"expected_regex"`
	ExpectedTools       []string `json:"expected_tools,omitempty" yaml:"expected_tools"`
}

// TimeLimit returns the effective per-invocation deadline.
func (t *Task) TimeLimit() time.Duration {
	if t.TimeLimitSeconds > 0 {
		return time.Duration(t.TimeLimitSeconds) * time.Second
	}
	return DefaultTaskTimeLimit
}

// Budget returns the effective token budget.
func (t *Task) Budget() int {
	if t.TokenBudget > 0 {
		return t.TokenBudget
	}
	return DefaultTokenBudget
}

// Tokenizer returns the encoding to count tokens with.
func (t *Task) Tokenizer() string {
	if enc := t.Metadata["tokenizer"]; enc != "" {
		return enc
	}
	return DefaultTokenizer
}

// ResourceUsage accumulates what an execution consumed.
type ResourceUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	WallSeconds  float64 `json:"wall_seconds"`
	ToolCalls    int     `json:"tool_calls"`
	APICalls     int     `json:"api_calls"`
}

func (u *ResourceUsage) add(other ResourceUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.WallSeconds += other.WallSeconds
	u.ToolCalls += other.ToolCalls
	u.APICalls += other.APICalls
}

// TaskExecution is the recorded outcome of one task.
type TaskExecution struct {
	TaskID           string        `json:"task_id"`
	SubmissionID     string        `json:"submission_id"`
	Score            float64       `json:"score"`
	Passed           bool          `json:"passed"`
	ResourceExceeded bool          `json:"resource_exceeded,omitempty"`
	Output           string        `json:"output,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorKind        string        `json:"error_kind,omitempty"`
	Attempts         int           `json:"attempts"`
	Tokenizer        string        `json:"tokenizer"`
	Usage            ResourceUsage `json:"usage"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}

// tokenCounter caches tiktoken encoders by name. Counting falls back to a
// bytes/4 estimate when an encoding cannot be loaded.
type tokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

var counters = &tokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}

func (tc *tokenCounter) count(encoding, text string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	enc, ok := tc.encoders[encoding]
	if !ok {
		loaded, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			log.Warn("tokenizer unavailable, estimating",
				zap.String("encoding", encoding), zap.Error(err))
		}
		enc = loaded
		tc.encoders[encoding] = enc
	}
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// TaskExecutor runs single tasks against an agent with budget enforcement
// and transient-error retries.
type TaskExecutor struct {
	// MaxRetries bounds retries after the first attempt (default 2).
	MaxRetries int
	// Recorder, when set, captures every invocation and tool call.
	Recorder *ExecutionRecorder

	sleep func(time.Duration)
	now   func() time.Time
}

// NewTaskExecutor creates an executor with default retry policy.
func NewTaskExecutor() *TaskExecutor {
	return &TaskExecutor{MaxRetries: DefaultTaskMaxRetries, sleep: time.Sleep, now: time.Now}
}

// ExecuteTask runs one task. Budget violations (token budget or time limit)
// score zero with resource_exceeded set and are never retried; transient
// invocation failures retry with 2^attempt seconds of backoff.
func (x *TaskExecutor) ExecuteTask(ctx context.Context, submissionID string, agent Agent, task Task) *TaskExecution {
	exec := &TaskExecution{
		TaskID:       task.TaskID,
		SubmissionID: submissionID,
		Tokenizer:    task.Tokenizer(),
		StartedAt:    x.now().UTC(),
	}
	defer func() { exec.FinishedAt = x.now().UTC() }()

	if err := sanitizePrompt(task.Prompt); err != nil {
		exec.Error = err.Error()
		exec.ErrorKind = string(aterrors.KindOf(err))
		return exec
	}

	inputTokens := counters.count(exec.Tokenizer, task.Prompt)
	budget := task.Budget()
	limit := task.TimeLimit()

	maxRetries := x.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var result *InvokeResult
	var invokeErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			x.sleep(time.Duration(1<<attempt) * time.Second)
		}
		exec.Attempts++

		start := x.now()
		result, invokeErr = agent.Invoke(ctx, task.Prompt, limit)
		duration := x.now().Sub(start)

		if x.Recorder != nil {
			x.Recorder.RecordInvocation(Invocation{
				TaskID:   task.TaskID,
				Prompt:   task.Prompt,
				Response: responseOf(result),
				Duration: duration,
				Attempt:  exec.Attempts,
				Err:      invokeErr,
			})
			if result != nil {
				for _, call := range result.ToolCalls {
					x.Recorder.RecordToolCall(task.TaskID, call)
				}
			}
		}

		if invokeErr == nil {
			break
		}
		if !aterrors.Retryable(invokeErr) || ctx.Err() != nil {
			break
		}
	}

	if invokeErr != nil {
		exec.Error = invokeErr.Error()
		exec.ErrorKind = string(aterrors.KindOf(invokeErr))
		return exec
	}

	outputTokens := counters.count(exec.Tokenizer, result.Output)
	exec.Output = result.Output
	exec.Usage = ResourceUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		WallSeconds:  result.Duration.Seconds(),
		ToolCalls:    len(result.ToolCalls),
		APICalls:     exec.Attempts,
	}

	// The budget is inclusive: exactly meeting it passes.
	if inputTokens+outputTokens > budget || result.Duration > limit {
		exec.ResourceExceeded = true
		exec.Score = 0
		exec.ErrorKind = string(aterrors.KindResourceExceeded)
		return exec
	}

	exec.Score = scoreOutput(task, result)
	exec.Passed = exec.Score >= 1
	return exec
}

func responseOf(result *InvokeResult) string {
	if result == nil {
		return ""
	}
	return result.Output
}

// scoreOutput is the satisfied fraction of the task's criteria. A task
// with no criteria scores on output presence alone.
func scoreOutput(task Task, result *InvokeResult) float64 {
	total := len(task.ExpectedContains) + len(task.ExpectedNotContains) + len(task.ExpectedTools)
	if task.ExpectedRegex != "" {
		total++
	}
	if total == 0 {
		if strings.TrimSpace(result.Output) == "" {
			return 0
		}
		return 1
	}

	met := 0
	for _, want := range task.ExpectedContains {
		if strings.Contains(result.Output, want) {
			met++
		}
	}
	for _, reject := range task.ExpectedNotContains {
		if !strings.Contains(result.Output, reject) {
			met++
		}
	}
	if task.ExpectedRegex != "" {
		if re, err := regexp.Compile(task.ExpectedRegex); err == nil && re.MatchString(result.Output) {
			met++
		}
	}
	if len(task.ExpectedTools) > 0 {
		used := make(map[string]bool, len(result.ToolCalls))
		for _, call := range result.ToolCalls {
			used[call.Name] = true
		}
		for _, tool := range task.ExpectedTools {
			if used[tool] {
				met++
			}
		}
	}
	return float64(met) / float64(total)
}
