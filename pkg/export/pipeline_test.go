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
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// captureSink records delivered batches and can fail a scripted number of
// times.
type captureSink struct {
	mu           sync.Mutex
	batches      [][]*trace.Span
	failuresLeft int
	outcome      Outcome
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Export(_ context.Context, batch []*trace.Span) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return s.outcome, fmt.Errorf("scripted failure")
	}
	copied := make([]*trace.Span, len(batch))
	copy(copied, batch)
	s.batches = append(s.batches, copied)
	return Delivered, nil
}

func (s *captureSink) spanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *captureSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func span(traceID, spanID string) *trace.Span {
	now := time.Now().UTC()
	return &trace.Span{
		SpanID:    spanID,
		TraceID:   traceID,
		Name:      "step",
		Kind:      trace.KindCustom,
		StartTime: now.Add(-time.Millisecond),
		EndTime:   now,
		Status:    trace.StatusOK,
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Factor: 2, Jitter: 0.25}
}

func shutdown(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	sink := &captureSink{}
	p, err := NewPipeline(Config{Mode: ModeSync, BatchSize: 3, BatchInterval: time.Hour}, sink)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p.Emit(span("t1", fmt.Sprintf("s%d", i)))
	}

	require.Eventually(t, func() bool { return sink.spanCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sink.batchCount())
	shutdown(t, p)
}

func TestPipelineFlushesOnInterval(t *testing.T) {
	sink := &captureSink{}
	p, err := NewPipeline(Config{Mode: ModeSync, BatchSize: 100, BatchInterval: 20 * time.Millisecond}, sink)
	require.NoError(t, err)

	p.Emit(span("t1", "s1"))
	p.Emit(span("t1", "s2"))

	require.Eventually(t, func() bool { return sink.spanCount() == 2 }, time.Second, 5*time.Millisecond)
	shutdown(t, p)
}

func TestPipelineShutdownFlushesPartialBatch(t *testing.T) {
	sink := &captureSink{}
	p, err := NewPipeline(Config{Mode: ModeSync, BatchSize: 100, BatchInterval: time.Hour}, sink)
	require.NoError(t, err)

	p.Emit(span("t1", "s1"))
	shutdown(t, p)

	assert.Equal(t, 1, sink.spanCount())
	assert.Equal(t, int64(1), p.Metrics().Delivered)
}

func TestPipelineEmitNeverBlocksWhenFull(t *testing.T) {
	sink := &captureSink{}
	// Tiny queue, giant batch: the worker drains slowly enough that the
	// queue must overflow and evict the oldest spans.
	p, err := NewPipeline(Config{Mode: ModeSync, QueueSize: 4, BatchSize: 1000, BatchInterval: time.Hour}, sink)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			p.Emit(span("t1", fmt.Sprintf("s%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full queue")
	}
	shutdown(t, p)
	assert.Equal(t, int64(500), p.Metrics().Emitted)
}

func TestPipelineEmitDuringShutdownIsSafe(t *testing.T) {
	sink := &captureSink{}
	p, err := NewPipeline(Config{Mode: ModeAsync, Workers: 2, QueueSize: 4, BatchSize: 1000, BatchInterval: time.Hour}, sink)
	require.NoError(t, err)

	// Hammer Emit from several goroutines while Shutdown closes the queue.
	// Emits racing the close must be dropped, never sent.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
				}
				p.Emit(span("t1", fmt.Sprintf("w%d-s%d", id, j)))
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	shutdown(t, p)
	close(stop)
	wg.Wait()

	// Emits after shutdown are silently dropped.
	before := p.Metrics().Emitted
	p.Emit(span("t1", "late"))
	assert.Equal(t, before, p.Metrics().Emitted)
}

func TestPipelineDisabledDropsEverything(t *testing.T) {
	sink := &captureSink{}
	p, err := NewPipeline(Config{Mode: ModeDisabled}, sink)
	require.NoError(t, err)

	p.Emit(span("t1", "s1"))
	shutdown(t, p)

	assert.Zero(t, sink.spanCount())
	assert.Zero(t, p.Metrics().Emitted)
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	sink := &captureSink{failuresLeft: 2, outcome: TransientFailure}
	p, err := NewPipeline(Config{
		Mode: ModeSync, BatchSize: 1, BatchInterval: time.Hour,
		Retry: fastRetry(),
	}, sink)
	require.NoError(t, err)

	p.Emit(span("t1", "s1"))

	require.Eventually(t, func() bool { return sink.spanCount() == 1 }, time.Second, 5*time.Millisecond)
	shutdown(t, p)
	assert.Equal(t, int64(1), p.Metrics().Delivered)
}

func TestPipelineDeadLettersPermanentFailures(t *testing.T) {
	root := t.TempDir()
	sink := &captureSink{failuresLeft: 1, outcome: PermanentFailure}
	p, err := NewPipeline(Config{
		Mode: ModeSync, BatchSize: 1, BatchInterval: time.Hour,
		Retry:          fastRetry(),
		DeadLetterRoot: root,
	}, sink)
	require.NoError(t, err)

	p.Emit(span("t1", "s1"))
	require.Eventually(t, func() bool { return p.Metrics().DeadLettered == 1 }, time.Second, 5*time.Millisecond)
	shutdown(t, p)

	files, err := filepath.Glob(filepath.Join(root, "_deadletter", "batch-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"s1"`)
}

func TestPipelineRetryExhaustionDeadLetters(t *testing.T) {
	root := t.TempDir()
	sink := &captureSink{failuresLeft: 10, outcome: TransientFailure}
	p, err := NewPipeline(Config{
		Mode: ModeSync, BatchSize: 1, BatchInterval: time.Hour,
		Retry:          fastRetry(),
		DeadLetterRoot: root,
	}, sink)
	require.NoError(t, err)

	p.Emit(span("t1", "s1"))
	require.Eventually(t, func() bool { return p.Metrics().DeadLettered == 1 }, 2*time.Second, 5*time.Millisecond)
	shutdown(t, p)
	assert.Zero(t, p.Metrics().Delivered)
}

func TestPipelineSampling(t *testing.T) {
	sink := &captureSink{}
	p, err := NewPipeline(Config{
		Mode: ModeSync, BatchSize: 1000, BatchInterval: 10 * time.Millisecond,
		SampleRate: 0.5,
	}, sink)
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		p.Emit(span(fmt.Sprintf("trace-%d", i), fmt.Sprintf("s%d", i)))
	}
	shutdown(t, p)

	m := p.Metrics()
	kept := n - m.Sampled
	assert.InDelta(t, n/2, kept, n/10)
	assert.Equal(t, kept, m.Delivered)
}

func TestCompositeSinkIndependentChildren(t *testing.T) {
	healthy := &captureSink{}
	broken := &captureSink{failuresLeft: 100, outcome: TransientFailure}
	dead, err := NewDeadLetter(t.TempDir())
	require.NoError(t, err)

	composite := NewCompositeSink(fastRetry(), dead, healthy, broken)
	outcome, err := composite.Export(context.Background(), []*trace.Span{span("t1", "s1")})
	require.NoError(t, err)

	// The composite absorbs child failures so the batch is not re-sent to
	// the healthy child.
	assert.Equal(t, Delivered, outcome)
	assert.Equal(t, 1, healthy.spanCount())
	assert.Equal(t, int64(1), dead.SpansWritten())
}

func TestExportWithRetryPermanentShortCircuits(t *testing.T) {
	sink := &captureSink{failuresLeft: 5, outcome: PermanentFailure}
	outcome, err := ExportWithRetry(context.Background(), sink, []*trace.Span{span("t1", "s1")}, fastRetry())
	require.Error(t, err)
	assert.Equal(t, PermanentFailure, outcome)

	// Only one attempt was made.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 4, sink.failuresLeft)
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		// Capped at MaxBackoff plus jitter.
		assert.LessOrEqual(t, d, time.Duration(float64(p.MaxBackoff)*1.25)+time.Millisecond)
	}
}
