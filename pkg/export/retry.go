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
	"math"
	"math/rand"
	"time"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// RetryPolicy controls exponential backoff for transient sink failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt. Default 3.
	MaxRetries int
	// BaseBackoff is the first retry delay. Default 1s.
	BaseBackoff time.Duration
	// MaxBackoff caps the delay. Default 30s.
	MaxBackoff time.Duration
	// Factor multiplies the delay per attempt. Default 2.
	Factor float64
	// Jitter is the fractional randomization applied to each delay.
	// Default 0.25 (±25%).
	Jitter float64
}

// DefaultRetryPolicy returns the standard export retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		Factor:      2,
		Jitter:      0.25,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Factor <= 1 {
		p.Factor = d.Factor
	}
	if p.Jitter <= 0 {
		p.Jitter = d.Jitter
	}
	return p
}

// Backoff returns the jittered delay before the given retry attempt
// (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	base := float64(p.BaseBackoff) * math.Pow(p.Factor, float64(attempt))
	if base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}
	// Jitter in [1-j, 1+j].
	factor := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(base * factor)
}

// ExportWithRetry attempts sink.Export, retrying transient failures per the
// policy. A context cancellation during backoff surfaces as a transient
// failure so the caller can dead-letter the batch.
func ExportWithRetry(ctx context.Context, sink Sink, batch []*trace.Span, policy RetryPolicy) (Outcome, error) {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		outcome, err := sink.Export(ctx, batch)
		switch outcome {
		case Delivered:
			return Delivered, nil
		case PermanentFailure:
			return PermanentFailure, err
		}
		lastErr = err

		if attempt == policy.MaxRetries {
			break
		}
		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return TransientFailure, ctx.Err()
		}
	}
	return TransientFailure, lastErr
}
