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
// Package judge turns an LLM provider into a scoring function for
// evaluators. The client retries transient failures, bounds in-flight
// requests, caches verdicts, tracks token spend, and parses scores out of
// model output that rarely follows instructions exactly.
package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/llm"
)

// Default client settings.
const (
	DefaultMaxRetries     = 3
	DefaultMaxConcurrency = 10
	DefaultCacheTTL       = time.Hour
	DefaultMaxTokens      = 1024

	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// Config tunes the judge client around an llm.Provider.
type Config struct {
	// MaxRetries bounds retry attempts after the first call (default 3).
	MaxRetries int
	// MaxConcurrency bounds in-flight provider calls (default 10).
	MaxConcurrency int
	// CacheTTL is how long verdicts stay reusable (default 1h). Negative
	// disables caching entirely.
	CacheTTL time.Duration
	// Temperature for judge calls. Judges default to 0 for stability.
	Temperature float64
	// MaxTokens for the judge's reply (default 1024).
	MaxTokens int
	// ExpectedMaxScore forces the scale verdicts are normalized from, e.g.
	// 10 when the rubric asks for a 1..10 rating. Zero auto-detects.
	ExpectedMaxScore float64
	// Costs prices token usage per model. Missing models cost zero.
	Costs map[string]ModelCost
	// WarnCostUSD logs a warning when cumulative spend first crosses it.
	// Zero disables the warning.
	WarnCostUSD float64
	// RetryBaseDelay is the first backoff step (default 1s). Each retry
	// doubles it up to the 30s cap.
	RetryBaseDelay time.Duration
}

// Request is one scoring question for the judge.
type Request struct {
	Prompt string
	System string
	// NoCache forces a fresh provider call even on a cache hit.
	NoCache bool
}

// Verdict is the judge's parsed answer. Score is always normalized to
// [0, 1] regardless of the scale the model answered on.
type Verdict struct {
	Score      float64   `json:"score"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Raw        string    `json:"raw"`
	Usage      llm.Usage `json:"usage"`
	Cached     bool      `json:"cached"`
}

// Client scores prompts through an LLM provider.
type Client struct {
	provider llm.Provider
	cfg      Config
	sem      *semaphore.Weighted
	cache    *verdictCache
	costs    *CostTracker
	rng      func() float64
}

// NewClient wraps a provider in a judge client.
func NewClient(provider llm.Provider, cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = retryBaseDelay
	}

	c := &Client{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		costs:    NewCostTracker(cfg.Costs, cfg.WarnCostUSD),
		rng:      rand.Float64,
	}
	if cfg.CacheTTL > 0 {
		c.cache = newVerdictCache(cfg.CacheTTL)
	}
	return c
}

// Costs exposes the client's spend tracker.
func (c *Client) Costs() *CostTracker {
	return c.costs
}

// Judge asks the provider to score the prompt and parses the reply. Cached
// verdicts are returned without a provider call and without counting
// tokens.
func (c *Client) Judge(ctx context.Context, req Request) (*Verdict, error) {
	key := c.cacheKey(req)
	if c.cache != nil && !req.NoCache {
		if v, ok := c.cache.get(key); ok {
			cached := *v
			cached.Cached = true
			return &cached, nil
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, aterrors.Wrap(aterrors.KindJudge, err, "judge queue wait")
	}
	defer c.sem.Release(1)

	resp, err := c.completeWithRetry(ctx, llm.Request{
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	c.costs.Record(resp.Model, resp.Usage)

	verdict, err := ParseVerdict(resp.Text, c.cfg.ExpectedMaxScore)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindJudge, err, "parse %s verdict", c.provider.Name())
	}
	verdict.Usage = resp.Usage

	if c.cache != nil {
		c.cache.put(key, verdict)
	}
	return verdict, nil
}

// completeWithRetry retries transient provider failures with exponential
// backoff and jitter. Context cancellation stops retrying immediately.
func (c *Client) completeWithRetry(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			log.Debug("retrying judge call",
				zap.String("provider", c.provider.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, aterrors.Wrap(aterrors.KindJudge, ctx.Err(), "judge call cancelled")
			case <-time.After(delay):
			}
		}

		resp, err := c.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, aterrors.Wrap(aterrors.KindJudge, lastErr,
		"%s judge call failed after %d attempts", c.provider.Name(), c.cfg.MaxRetries+1)
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	// Jitter within ±25%.
	jitter := 0.75 + c.rng()*0.5
	return time.Duration(float64(delay) * jitter)
}

// cacheKey hashes the full identity of a judge call. Prompt whitespace is
// collapsed so trivially reformatted prompts share a cache slot.
func (c *Client) cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%g",
		c.provider.Name(),
		c.provider.Model(),
		normalizePrompt(req.Prompt),
		req.System,
		c.cfg.Temperature)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}
