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
	"sync"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/llm"
)

// ModelCost prices a model's tokens in USD per million.
type ModelCost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultCosts carries published list prices for the judge models shipped
// in configuration defaults. Callers with other models supply their own
// table.
var DefaultCosts = map[string]ModelCost{
	"claude-sonnet-4-5-20250929":             {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"gpt-4.1":                                {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"meta-llama/Llama-3.3-70B-Instruct-Turbo": {InputPerMTok: 0.88, OutputPerMTok: 0.88},
}

// CostTracker accumulates token usage and dollar spend per model.
type CostTracker struct {
	mu     sync.Mutex
	costs  map[string]ModelCost
	warnAt float64
	warned bool

	inputTokens  int64
	outputTokens int64
	totalUSD     float64
	perModelUSD  map[string]float64
}

// NewCostTracker creates a tracker over the given price table. warnAt of
// zero disables the spend warning.
func NewCostTracker(costs map[string]ModelCost, warnAt float64) *CostTracker {
	if costs == nil {
		costs = DefaultCosts
	}
	return &CostTracker{
		costs:       costs,
		warnAt:      warnAt,
		perModelUSD: make(map[string]float64),
	}
}

// Record accumulates one call's usage. The first time cumulative spend
// crosses the warn threshold a single warning is logged.
func (t *CostTracker) Record(model string, usage llm.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inputTokens += int64(usage.InputTokens)
	t.outputTokens += int64(usage.OutputTokens)

	cost, ok := t.costs[model]
	if !ok {
		return
	}
	usd := float64(usage.InputTokens)/1e6*cost.InputPerMTok +
		float64(usage.OutputTokens)/1e6*cost.OutputPerMTok
	t.totalUSD += usd
	t.perModelUSD[model] += usd

	if t.warnAt > 0 && !t.warned && t.totalUSD >= t.warnAt {
		t.warned = true
		log.Warn("judge spend crossed warning threshold",
			zap.Float64("total_usd", t.totalUSD),
			zap.Float64("threshold_usd", t.warnAt))
	}
}

// TotalUSD returns cumulative spend across all models.
func (t *CostTracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD
}

// ModelUSD returns cumulative spend for one model.
func (t *CostTracker) ModelUSD(model string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perModelUSD[model]
}

// Tokens returns cumulative input and output token counts.
func (t *CostTracker) Tokens() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTokens, t.outputTokens
}
