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
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{TaskID: "task-" + strconv.Itoa(i)}
	}
	return tasks
}

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.TaskID
	}
	return ids
}

func TestOrderTasksIsDeterministicPerSubmission(t *testing.T) {
	tasks := numberedTasks(20)

	first := OrderTasks("sub-1", tasks)
	second := OrderTasks("sub-1", tasks)
	assert.Equal(t, taskIDs(first), taskIDs(second))
	assert.ElementsMatch(t, taskIDs(tasks), taskIDs(first))
}

func TestOrderTasksDiffersAcrossSubmissions(t *testing.T) {
	tasks := numberedTasks(20)

	a := OrderTasks("sub-1", tasks)
	b := OrderTasks("sub-2", tasks)
	assert.NotEqual(t, taskIDs(a), taskIDs(b))
	assert.ElementsMatch(t, taskIDs(a), taskIDs(b))
}

func TestOrderTasksDoesNotMutateInput(t *testing.T) {
	tasks := numberedTasks(10)
	want := taskIDs(tasks)
	OrderTasks("sub-1", tasks)
	assert.Equal(t, want, taskIDs(tasks))
}

func TestSeedIsDerivedFromSubmissionID(t *testing.T) {
	assert.Equal(t, Seed("sub-1"), Seed("sub-1"))
	assert.NotEqual(t, Seed("sub-1"), Seed("sub-2"))
}

func TestExecutionRecorderRoundTrip(t *testing.T) {
	rec := NewExecutionRecorder()
	rec.RecordInvocation(Invocation{TaskID: "t1", Prompt: "p1", Response: "r1", Attempt: 1})
	rec.RecordInvocation(Invocation{TaskID: "t1", Prompt: "p1", Attempt: 2, Err: assert.AnError})
	rec.RecordToolCall("t1", AgentToolCall{Name: "search"})

	invocations := rec.Invocations()
	require.Len(t, invocations, 2)
	assert.Empty(t, invocations[0].ErrorMsg)
	assert.Equal(t, assert.AnError.Error(), invocations[1].ErrorMsg)

	path := filepath.Join(t.TempDir(), "trace.json")
	require.NoError(t, rec.WriteTraceFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_id": "t1"`)
	assert.Contains(t, string(data), `"search"`)
}

func executionWith(tasks []*TaskExecution, prompts []string) *BenchmarkExecution {
	exec := &BenchmarkExecution{
		Categories: []*CategoryExecution{{CategoryID: "c1", Tasks: tasks}},
	}
	if prompts != nil {
		view := &recordingView{}
		for _, p := range prompts {
			view.Invocations = append(view.Invocations, Invocation{Prompt: p})
		}
		exec.Recording = view
	}
	return exec
}

func TestReproducibilityVerifierMatchingRuns(t *testing.T) {
	v := &ReproducibilityVerifier{ScoreTolerance: 0.01}
	a := executionWith([]*TaskExecution{{TaskID: "t1", Score: 0.8}, {TaskID: "t2", Score: 0.5}}, []string{"p1", "p2"})
	b := executionWith([]*TaskExecution{{TaskID: "t1", Score: 0.805}, {TaskID: "t2", Score: 0.5}}, []string{"p1", "p2"})

	report := v.Verify(a, b)
	assert.True(t, report.Reproducible)
	assert.Empty(t, report.Differences)
}

func TestReproducibilityVerifierDetectsDivergence(t *testing.T) {
	v := &ReproducibilityVerifier{ScoreTolerance: 0.01}

	a := executionWith([]*TaskExecution{{TaskID: "t1", Score: 0.8}, {TaskID: "t2", Score: 0.5}}, []string{"p1"})

	reordered := executionWith([]*TaskExecution{{TaskID: "t2", Score: 0.5}, {TaskID: "t1", Score: 0.8}}, []string{"p1"})
	report := v.Verify(a, reordered)
	assert.False(t, report.Reproducible)
	assert.False(t, report.OrderingMatches)

	drifted := executionWith([]*TaskExecution{{TaskID: "t1", Score: 0.6}, {TaskID: "t2", Score: 0.5}}, []string{"p1"})
	report = v.Verify(a, drifted)
	assert.False(t, report.Reproducible)
	assert.False(t, report.ScoresMatch)
	assert.True(t, report.OrderingMatches)

	rephrased := executionWith([]*TaskExecution{{TaskID: "t1", Score: 0.8}, {TaskID: "t2", Score: 0.5}}, []string{"p1-changed"})
	report = v.Verify(a, rephrased)
	assert.False(t, report.Reproducible)
	assert.False(t, report.PromptsMatch)
}
