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
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// DefaultTaskConcurrency bounds parallel tasks within a category.
const DefaultTaskConcurrency = 3

// Category groups tasks under a weight in the overall benchmark score.
type Category struct {
	CategoryID string  `json:"category_id" yaml:"category_id"`
	Name       string  `json:"name" yaml:"name"`
	Weight     float64 `json:"weight" yaml:"weight"`
	Tasks      []Task  `json:"tasks" yaml:"tasks"`
}

// Benchmark is a versioned suite of categories.
type Benchmark struct {
	Name       string     `json:"name" yaml:"name"`
	Version    string     `json:"version" yaml:"version"`
	Categories []Category `json:"categories" yaml:"categories"`
}

// LoadBenchmark reads a benchmark suite from YAML.
func LoadBenchmark(path string) (*Benchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read benchmark file %s: %w", path, err)
	}
	var b Benchmark
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse benchmark file %s: %w", path, err)
	}
	if b.Name == "" || len(b.Categories) == 0 {
		return nil, aterrors.New(aterrors.KindValidation, "benchmark %s needs a name and categories", path)
	}
	return &b, nil
}

// Category returns the named category, or nil.
func (b *Benchmark) Category(id string) *Category {
	for i := range b.Categories {
		if b.Categories[i].CategoryID == id {
			return &b.Categories[i]
		}
	}
	return nil
}

// CategoryIDs lists the suite's category identifiers in suite order.
func (b *Benchmark) CategoryIDs() []string {
	ids := make([]string, 0, len(b.Categories))
	for _, c := range b.Categories {
		ids = append(ids, c.CategoryID)
	}
	return ids
}

// CategoryExecution aggregates one category's task executions.
type CategoryExecution struct {
	CategoryID string           `json:"category_id"`
	Score      float64          `json:"score"`
	Tasks      []*TaskExecution `json:"tasks"`
	Usage      ResourceUsage    `json:"usage"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// BenchmarkExecution is the full result of running a submission.
type BenchmarkExecution struct {
	SubmissionID string               `json:"submission_id"`
	Benchmark    string               `json:"benchmark"`
	OverallScore float64              `json:"overall_score"`
	Categories   []*CategoryExecution `json:"categories"`
	Usage        ResourceUsage        `json:"usage"`
	Environment  EnvironmentSnapshot  `json:"environment"`
	Recording    *recordingView       `json:"recording,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
}

type recordingView struct {
	Invocations []Invocation       `json:"invocations"`
	ToolCalls   []RecordedToolCall `json:"tool_calls"`
}

// taskSequence flattens task executions in execution order.
func (b *BenchmarkExecution) taskSequence() []*TaskExecution {
	var out []*TaskExecution
	for _, c := range b.Categories {
		out = append(out, c.Tasks...)
	}
	return out
}

// BenchmarkExecutor runs categories sequentially and tasks within a
// category under a bounded semaphore, in the deterministic per-submission
// order.
type BenchmarkExecutor struct {
	// TaskConcurrency bounds parallel tasks per category (default 3).
	TaskConcurrency int
	// Dependencies are core package versions recorded for reproducibility.
	Dependencies map[string]string
	// HTTPClient serves http endpoints; nil uses a default client.
	HTTPClient *http.Client
	// Locals resolves local endpoints.
	Locals *LocalAgentRegistry
	// WrapAgent, when set, decorates the agent before invocation, e.g.
	// with a circuit breaker guard.
	WrapAgent func(Agent) Agent

	tasks *TaskExecutor
}

// NewBenchmarkExecutor wires a benchmark executor over a task executor.
func NewBenchmarkExecutor(tasks *TaskExecutor) *BenchmarkExecutor {
	if tasks == nil {
		tasks = NewTaskExecutor()
	}
	return &BenchmarkExecutor{TaskConcurrency: DefaultTaskConcurrency, tasks: tasks}
}

// progressFn is notified after each task completes.
type progressFn func(completed, total int, currentTask string)

// ExecuteCategory runs one category's tasks. Results keep the
// deterministic task order regardless of completion order.
func (x *BenchmarkExecutor) ExecuteCategory(ctx context.Context, sub *Submission, category *Category, progress progressFn, totalTasks int, completedBefore int) *CategoryExecution {
	exec := &CategoryExecution{
		CategoryID: category.CategoryID,
		StartedAt:  time.Now().UTC(),
	}

	ordered := OrderTasks(sub.SubmissionID, category.Tasks)
	exec.Tasks = make([]*TaskExecution, len(ordered))

	concurrency := x.TaskConcurrency
	if concurrency <= 0 {
		concurrency = DefaultTaskConcurrency
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	agent, agentErr := NewAgent(sub.Endpoint, x.HTTPClient, x.Locals)
	if agentErr == nil && x.WrapAgent != nil {
		agent = x.WrapAgent(agent)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for i, task := range ordered {
		if agentErr != nil {
			exec.Tasks[i] = &TaskExecution{
				TaskID:       task.TaskID,
				SubmissionID: sub.SubmissionID,
				Error:        agentErr.Error(),
				ErrorKind:    string(aterrors.KindOf(agentErr)),
			}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			exec.Tasks[i] = &TaskExecution{
				TaskID:       task.TaskID,
				SubmissionID: sub.SubmissionID,
				Error:        err.Error(),
				ErrorKind:    string(aterrors.KindInternal),
			}
			continue
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer sem.Release(1)
			exec.Tasks[i] = x.tasks.ExecuteTask(ctx, sub.SubmissionID, agent, task)

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if progress != nil {
				progress(completedBefore+done, totalTasks, task.TaskID)
			}
		}(i, task)
	}
	wg.Wait()

	var sum float64
	for _, te := range exec.Tasks {
		sum += te.Score
		exec.Usage.add(te.Usage)
	}
	if len(exec.Tasks) > 0 {
		exec.Score = sum / float64(len(exec.Tasks))
	}
	exec.FinishedAt = time.Now().UTC()
	return exec
}

// Execute runs the submission's categories sequentially and composes the
// weighted overall score.
func (x *BenchmarkExecutor) Execute(ctx context.Context, sub *Submission, benchmark *Benchmark, progress progressFn) (*BenchmarkExecution, error) {
	selected := make([]*Category, 0, len(sub.Categories))
	total := 0
	for _, id := range sub.Categories {
		c := benchmark.Category(id)
		if c == nil {
			return nil, aterrors.New(aterrors.KindValidation, "benchmark %s has no category %q", benchmark.Name, id)
		}
		selected = append(selected, c)
		total += len(c.Tasks)
	}

	exec := &BenchmarkExecution{
		SubmissionID: sub.SubmissionID,
		Benchmark:    benchmark.Name,
		Environment:  NewEnvironmentSnapshot(sub.SubmissionID, benchmark.Version, x.Dependencies),
		StartedAt:    time.Now().UTC(),
	}

	completed := 0
	var weighted, totalWeight float64
	for _, category := range selected {
		ce := x.ExecuteCategory(ctx, sub, category, progress, total, completed)
		completed += len(ce.Tasks)
		exec.Categories = append(exec.Categories, ce)
		exec.Usage.add(ce.Usage)

		w := category.Weight
		if w <= 0 {
			w = 1
		}
		weighted += w * ce.Score
		totalWeight += w

		if err := ctx.Err(); err != nil {
			break
		}
	}
	if totalWeight > 0 {
		exec.OverallScore = weighted / totalWeight
	}

	if rec := x.tasks.Recorder; rec != nil {
		exec.Recording = &recordingView{
			Invocations: rec.Invocations(),
			ToolCalls:   rec.ToolCalls(),
		}
	}
	exec.FinishedAt = time.Now().UTC()
	return exec, nil
}
