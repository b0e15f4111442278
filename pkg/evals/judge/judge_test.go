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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/llm"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

type fakeProvider struct {
	model        string
	reply        string
	failuresLeft atomic.Int32
	calls        atomic.Int32
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	f.calls.Add(1)
	if f.failuresLeft.Add(-1) >= 0 {
		return nil, errors.New("upstream 529")
	}
	return &llm.Response{
		Text:  f.reply,
		Model: f.model,
		Usage: llm.Usage{InputTokens: 100, OutputTokens: 20},
	}, nil
}

// fastClient removes real backoff sleeps from retry tests.
func fastClient(p llm.Provider, cfg Config) *Client {
	cfg.RetryBaseDelay = time.Microsecond
	c := NewClient(p, cfg)
	c.rng = func() float64 { return 0 }
	return c
}

func TestJudgeParsesAndTracksCost(t *testing.T) {
	p := &fakeProvider{model: "gpt-4.1", reply: `{"score": 0.8, "reasoning": "good"}`}
	c := NewClient(p, Config{})

	v, err := c.Judge(context.Background(), Request{Prompt: "grade this"})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, v.Score, 1e-9)
	assert.Equal(t, "good", v.Reasoning)
	assert.False(t, v.Cached)
	assert.Equal(t, 100, v.Usage.InputTokens)

	in, out := c.Costs().Tokens()
	assert.Equal(t, int64(100), in)
	assert.Equal(t, int64(20), out)
	assert.Greater(t, c.Costs().TotalUSD(), 0.0)
	assert.InDelta(t, c.Costs().TotalUSD(), c.Costs().ModelUSD("gpt-4.1"), 1e-12)
}

func TestJudgeCacheHitSkipsProviderAndTokens(t *testing.T) {
	p := &fakeProvider{model: "gpt-4.1", reply: `{"score": 0.8, "reasoning": "good"}`}
	c := NewClient(p, Config{})
	ctx := context.Background()

	first, err := c.Judge(ctx, Request{Prompt: "grade   this"})
	require.NoError(t, err)

	// Same prompt with collapsed whitespace shares the cache slot.
	second, err := c.Judge(ctx, Request{Prompt: "grade this"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.calls.Load())
	assert.True(t, second.Cached)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Reasoning, second.Reasoning)

	in, _ := c.Costs().Tokens()
	assert.Equal(t, int64(100), in, "cache hits must not count tokens")
}

func TestJudgeNoCacheForcesFreshCall(t *testing.T) {
	p := &fakeProvider{model: "m", reply: `{"score": 0.5}`}
	c := NewClient(p, Config{})
	ctx := context.Background()

	_, err := c.Judge(ctx, Request{Prompt: "q"})
	require.NoError(t, err)
	_, err = c.Judge(ctx, Request{Prompt: "q", NoCache: true})
	require.NoError(t, err)

	assert.Equal(t, int32(2), p.calls.Load())
}

func TestJudgeCacheDisabled(t *testing.T) {
	p := &fakeProvider{model: "m", reply: `{"score": 0.5}`}
	c := NewClient(p, Config{CacheTTL: -1})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Judge(ctx, Request{Prompt: "q"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestJudgeCacheExpires(t *testing.T) {
	cache := newVerdictCache(time.Minute)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	cache.now = func() time.Time { return now }

	cache.put("k", &Verdict{Score: 0.5})
	_, ok := cache.get("k")
	assert.True(t, ok)

	now = base.Add(2 * time.Minute)
	_, ok = cache.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.len())
}

func TestJudgeRetriesTransientFailures(t *testing.T) {
	p := &fakeProvider{model: "m", reply: `{"score": 0.9}`}
	p.failuresLeft.Store(2)
	c := fastClient(p, Config{})

	v, err := c.Judge(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, v.Score, 1e-9)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestJudgeExhaustsRetries(t *testing.T) {
	p := &fakeProvider{model: "m", reply: `{"score": 0.9}`}
	p.failuresLeft.Store(100)
	c := fastClient(p, Config{MaxRetries: 2})

	_, err := c.Judge(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindJudge))
	assert.Equal(t, int32(3), p.calls.Load(), "initial call plus two retries")
}

func TestJudgeBackoffBounds(t *testing.T) {
	c := NewClient(&fakeProvider{model: "m"}, Config{})
	c.rng = func() float64 { return 1 } // max jitter

	assert.LessOrEqual(t, c.backoff(1), time.Duration(float64(time.Second)*1.25))
	for attempt := 1; attempt <= 10; attempt++ {
		assert.LessOrEqual(t, c.backoff(attempt), time.Duration(float64(retryMaxDelay)*1.25))
	}
}

func TestJudgeUnparseableVerdict(t *testing.T) {
	p := &fakeProvider{model: "m", reply: "no idea"}
	c := NewClient(p, Config{})

	_, err := c.Judge(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindJudge))
}

func TestCostTrackerUnknownModelCountsTokensOnly(t *testing.T) {
	tr := NewCostTracker(map[string]ModelCost{}, 0)
	tr.Record("mystery", llm.Usage{InputTokens: 1000, OutputTokens: 500})

	in, out := tr.Tokens()
	assert.Equal(t, int64(1000), in)
	assert.Equal(t, int64(500), out)
	assert.Zero(t, tr.TotalUSD())
}

func TestJudgeEvaluatorProducesThresholdScore(t *testing.T) {
	p := &fakeProvider{model: "m", reply: `{"score": 0.9, "reasoning": "thorough", "confidence": 0.8}`}
	client := NewClient(p, Config{})

	threshold := 0.7
	e := NewEvaluator(client, EvaluatorConfig{
		Name:      "helpfulness",
		Criteria:  "Did the agent answer the question?",
		Threshold: &threshold,
	})

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tr, err := trace.Assemble([]*trace.Span{{
		SpanID:    "s1",
		TraceID:   "t1",
		Kind:      trace.KindAgent,
		Name:      "agent.run",
		StartTime: start,
		EndTime:   start.Add(time.Second),
		Status:    trace.StatusOK,
		Input:     "what is 2+2",
		Output:    "4",
	}})
	require.NoError(t, err)

	result, err := e.Evaluate(context.Background(), tr)
	require.NoError(t, err)

	score, ok := result.Scores["helpfulness"]
	require.True(t, ok)
	assert.InDelta(t, 0.9, score.Value, 1e-9)
	assert.True(t, score.Passed)
	assert.Equal(t, "thorough", result.Feedback)
	assert.Equal(t, "m", result.Metadata["judge_model"])
}
