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
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// EnvironmentSnapshot pins down everything needed to rerun a submission
// under identical conditions.
type EnvironmentSnapshot struct {
	Runtime      string            `json:"runtime"`
	OS           string            `json:"os"`
	Arch         string            `json:"arch"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	SuiteVersion string            `json:"suite_version,omitempty"`
	Seed         uint64            `json:"seed"`
	StartedAt    time.Time         `json:"started_at"`
}

// Seed derives the deterministic random seed for a submission: the first
// eight bytes of SHA-256(submission_id).
func Seed(submissionID string) uint64 {
	sum := sha256.Sum256([]byte(submissionID))
	return binary.BigEndian.Uint64(sum[:8])
}

// NewEnvironmentSnapshot captures the current environment for a
// submission.
func NewEnvironmentSnapshot(submissionID, suiteVersion string, deps map[string]string) EnvironmentSnapshot {
	return EnvironmentSnapshot{
		Runtime:      runtime.Version(),
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		Dependencies: deps,
		SuiteVersion: suiteVersion,
		Seed:         Seed(submissionID),
		StartedAt:    time.Now().UTC(),
	}
}

// OrderTasks sorts tasks by SHA-256(submission_id || task_id) so the same
// submission always sees the same order while different submissions are
// shuffled relative to each other.
func OrderTasks(submissionID string, tasks []Task) []Task {
	ordered := make([]Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return taskRank(submissionID, ordered[i].TaskID) < taskRank(submissionID, ordered[j].TaskID)
	})
	return ordered
}

func taskRank(submissionID, taskID string) string {
	sum := sha256.Sum256([]byte(submissionID + taskID))
	return string(sum[:])
}

// Invocation is one recorded agent call.
type Invocation struct {
	TaskID   string        `json:"task_id"`
	Prompt   string        `json:"prompt"`
	Response string        `json:"response"`
	Duration time.Duration `json:"duration"`
	Attempt  int           `json:"attempt"`
	Err      error         `json:"-"`
	ErrorMsg string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// RecordedToolCall is one recorded tool call with its owning task.
type RecordedToolCall struct {
	TaskID string        `json:"task_id"`
	Call   AgentToolCall `json:"call"`
	At     time.Time     `json:"at"`
}

// ExecutionRecorder captures the full interaction history of a benchmark
// run in time order, for replay and audit.
type ExecutionRecorder struct {
	mu          sync.Mutex
	invocations []Invocation
	toolCalls   []RecordedToolCall
	now         func() time.Time
}

// NewExecutionRecorder creates an empty recorder.
func NewExecutionRecorder() *ExecutionRecorder {
	return &ExecutionRecorder{now: time.Now}
}

// RecordInvocation appends one agent call.
func (r *ExecutionRecorder) RecordInvocation(inv Invocation) {
	inv.At = r.now().UTC()
	if inv.Err != nil {
		inv.ErrorMsg = inv.Err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)
}

// RecordToolCall appends one tool call.
func (r *ExecutionRecorder) RecordToolCall(taskID string, call AgentToolCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCalls = append(r.toolCalls, RecordedToolCall{TaskID: taskID, Call: call, At: r.now().UTC()})
}

// Invocations returns the recorded agent calls in time order.
func (r *ExecutionRecorder) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.invocations))
	copy(out, r.invocations)
	return out
}

// ToolCalls returns the recorded tool calls in time order.
func (r *ExecutionRecorder) ToolCalls() []RecordedToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedToolCall, len(r.toolCalls))
	copy(out, r.toolCalls)
	return out
}

// traceFile is the serialized replay format.
type traceFile struct {
	Invocations []Invocation       `json:"invocations"`
	ToolCalls   []RecordedToolCall `json:"tool_calls"`
}

// WriteTraceFile serializes the recording for later replay.
func (r *ExecutionRecorder) WriteTraceFile(path string) error {
	data, err := json.MarshalIndent(traceFile{
		Invocations: r.Invocations(),
		ToolCalls:   r.ToolCalls(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "write trace file %s", path)
	}
	return nil
}

// ReproducibilityVerifier compares two runs of the same submission.
type ReproducibilityVerifier struct {
	// ScoreTolerance is the largest acceptable per-task score difference.
	ScoreTolerance float64
}

// ReproducibilityReport details where two runs diverge.
type ReproducibilityReport struct {
	Reproducible    bool     `json:"reproducible"`
	OrderingMatches bool     `json:"ordering_matches"`
	PromptsMatch    bool     `json:"prompts_match"`
	ScoresMatch     bool     `json:"scores_match"`
	Differences     []string `json:"differences,omitempty"`
}

// Verify compares task ordering, prompts, and scores of two benchmark
// executions of the same submission.
func (v *ReproducibilityVerifier) Verify(a, b *BenchmarkExecution) *ReproducibilityReport {
	report := &ReproducibilityReport{OrderingMatches: true, PromptsMatch: true, ScoresMatch: true}
	tolerance := v.ScoreTolerance

	aTasks := a.taskSequence()
	bTasks := b.taskSequence()

	if len(aTasks) != len(bTasks) {
		report.OrderingMatches = false
		report.Differences = append(report.Differences, "runs executed a different number of tasks")
	} else {
		for i := range aTasks {
			if aTasks[i].TaskID != bTasks[i].TaskID {
				report.OrderingMatches = false
				report.Differences = append(report.Differences,
					"task order diverges at position "+strconv.Itoa(i)+": "+aTasks[i].TaskID+" vs "+bTasks[i].TaskID)
				break
			}
		}
	}

	if report.OrderingMatches && len(aTasks) == len(bTasks) {
		for i := range aTasks {
			if math.Abs(aTasks[i].Score-bTasks[i].Score) > tolerance {
				report.ScoresMatch = false
				report.Differences = append(report.Differences,
					"score for task "+aTasks[i].TaskID+" differs beyond tolerance")
			}
		}
	}

	aInv := invocationPrompts(a)
	bInv := invocationPrompts(b)
	if len(aInv) != len(bInv) {
		report.PromptsMatch = false
		report.Differences = append(report.Differences, "runs issued a different number of prompts")
	} else {
		for i := range aInv {
			if aInv[i] != bInv[i] {
				report.PromptsMatch = false
				report.Differences = append(report.Differences, "prompt sequence diverges at position "+strconv.Itoa(i))
				break
			}
		}
	}

	report.Reproducible = report.OrderingMatches && report.PromptsMatch && report.ScoresMatch
	return report
}

func invocationPrompts(b *BenchmarkExecution) []string {
	if b.Recording == nil {
		return nil
	}
	prompts := make([]string, 0, len(b.Recording.Invocations))
	for _, inv := range b.Recording.Invocations {
		prompts = append(prompts, inv.Prompt)
	}
	return prompts
}

