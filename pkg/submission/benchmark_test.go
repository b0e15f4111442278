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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

const benchmarkYAML = `
name: demo-bench
version: "1.0.0"
categories:
  - category_id: basic
    name: Basic reasoning
    weight: 3
    tasks:
      - task_id: greet
        prompt: say hello
        expected_contains: ["hello"]
      - task_id: count
        prompt: count to three
        expected_contains: ["impossible"]
  - category_id: tools
    name: Tool use
    weight: 1
    tasks:
      - task_id: echo
        prompt: repeat after me
        expected_contains: ["repeat"]
`

func writeBenchmark(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(benchmarkYAML), 0o644))
	return path
}

func TestLoadBenchmark(t *testing.T) {
	b, err := LoadBenchmark(writeBenchmark(t))
	require.NoError(t, err)
	assert.Equal(t, "demo-bench", b.Name)
	assert.Equal(t, []string{"basic", "tools"}, b.CategoryIDs())
	require.NotNil(t, b.Category("basic"))
	assert.Len(t, b.Category("basic").Tasks, 2)
	assert.Nil(t, b.Category("missing"))
}

func TestLoadBenchmarkRejectsEmptySuite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0.0\"\n"), 0o644))

	_, err := LoadBenchmark(path)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))
}

// echoLocals returns the prompt itself, so expected_contains criteria
// that quote the prompt are satisfied and others are not.
func echoLocals() *LocalAgentRegistry {
	locals := NewLocalAgentRegistry()
	locals.Register("demo", "echo", func(ctx context.Context, prompt string) (*InvokeResult, error) {
		return &InvokeResult{Output: prompt}, nil
	})
	return locals
}

func echoSubmission(id string, categories ...string) *Submission {
	return &Submission{
		SubmissionID: id,
		AgentName:    "echo-agent",
		Endpoint:     AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "echo"},
		Categories:   categories,
	}
}

func TestExecuteWeightsCategoryScores(t *testing.T) {
	benchmark, err := LoadBenchmark(writeBenchmark(t))
	require.NoError(t, err)

	tasks := NewTaskExecutor()
	tasks.Recorder = NewExecutionRecorder()
	executor := NewBenchmarkExecutor(tasks)
	executor.Locals = echoLocals()

	var mu sync.Mutex
	var updates []int
	progress := func(completed, total int, currentTask string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 3, total)
		updates = append(updates, completed)
	}

	exec, err := executor.Execute(context.Background(), echoSubmission("sub-1", "basic", "tools"), benchmark, progress)
	require.NoError(t, err)

	// basic: "say hello" contains hello, "count to three" lacks
	// impossible, so the category averages 0.5; tools scores 1.0.
	require.Len(t, exec.Categories, 2)
	byID := map[string]*CategoryExecution{}
	for _, c := range exec.Categories {
		byID[c.CategoryID] = c
	}
	assert.InDelta(t, 0.5, byID["basic"].Score, 1e-9)
	assert.InDelta(t, 1.0, byID["tools"].Score, 1e-9)

	// (3*0.5 + 1*1.0) / 4
	assert.InDelta(t, 0.625, exec.OverallScore, 1e-9)

	assert.Len(t, updates, 3)
	assert.Equal(t, Seed("sub-1"), exec.Environment.Seed)
	require.NotNil(t, exec.Recording)
	assert.Len(t, exec.Recording.Invocations, 3)
	assert.Equal(t, 3, exec.Usage.APICalls)
}

func TestExecuteRejectsUnknownCategory(t *testing.T) {
	benchmark, err := LoadBenchmark(writeBenchmark(t))
	require.NoError(t, err)

	executor := NewBenchmarkExecutor(nil)
	executor.Locals = echoLocals()

	_, err = executor.Execute(context.Background(), echoSubmission("sub-1", "nonexistent"), benchmark, nil)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))
}

func TestExecuteCategoryKeepsDeterministicResultOrder(t *testing.T) {
	benchmark, err := LoadBenchmark(writeBenchmark(t))
	require.NoError(t, err)

	executor := NewBenchmarkExecutor(nil)
	executor.Locals = echoLocals()

	sub := echoSubmission("sub-1", "basic")
	first := executor.ExecuteCategory(context.Background(), sub, benchmark.Category("basic"), nil, 2, 0)
	second := executor.ExecuteCategory(context.Background(), sub, benchmark.Category("basic"), nil, 2, 0)

	require.Len(t, first.Tasks, 2)
	for i := range first.Tasks {
		assert.Equal(t, first.Tasks[i].TaskID, second.Tasks[i].TaskID)
	}
}

func TestExecuteCategoryRecordsAgentResolutionFailure(t *testing.T) {
	benchmark, err := LoadBenchmark(writeBenchmark(t))
	require.NoError(t, err)

	executor := NewBenchmarkExecutor(nil)
	executor.Locals = NewLocalAgentRegistry()

	sub := echoSubmission("sub-1", "basic")
	exec := executor.ExecuteCategory(context.Background(), sub, benchmark.Category("basic"), nil, 2, 0)

	require.Len(t, exec.Tasks, 2)
	for _, te := range exec.Tasks {
		assert.Equal(t, string(aterrors.KindNotFound), te.ErrorKind)
	}
	assert.Equal(t, 0.0, exec.Score)
}

func TestExecuteAppliesWrapAgent(t *testing.T) {
	benchmark, err := LoadBenchmark(writeBenchmark(t))
	require.NoError(t, err)

	executor := NewBenchmarkExecutor(nil)
	executor.Locals = echoLocals()

	breaker := NewCircuitBreaker(BreakerConfig{})
	for i := 0; i < BreakerFailureThreshold; i++ {
		breaker.RecordFailure()
	}
	executor.WrapAgent = func(a Agent) Agent { return GuardAgent(a, breaker) }

	exec := executor.ExecuteCategory(context.Background(), echoSubmission("sub-1", "tools"), benchmark.Category("tools"), nil, 1, 0)
	require.Len(t, exec.Tasks, 1)
	assert.Equal(t, string(aterrors.KindCircuitOpen), exec.Tasks[0].ErrorKind)
}
