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
package query

import (
	"sync"
	"time"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Per-minute rate limit defaults per endpoint class.
const (
	DefaultQueryPerMinute  = 60
	DefaultExportPerMinute = 10
	DefaultStreamPerMinute = 5
)

// Class partitions the rate-limited surface.
type Class string

const (
	ClassQuery  Class = "query"
	ClassExport Class = "export"
	ClassStream Class = "stream"
)

// Limits are per-principal, per-minute budgets. Zero values take the
// defaults.
type Limits struct {
	QueryPerMinute  int
	ExportPerMinute int
	StreamPerMinute int
}

func (l *Limits) applyDefaults() {
	if l.QueryPerMinute <= 0 {
		l.QueryPerMinute = DefaultQueryPerMinute
	}
	if l.ExportPerMinute <= 0 {
		l.ExportPerMinute = DefaultExportPerMinute
	}
	if l.StreamPerMinute <= 0 {
		l.StreamPerMinute = DefaultStreamPerMinute
	}
}

func (l Limits) forClass(c Class) int {
	switch c {
	case ClassExport:
		return l.ExportPerMinute
	case ClassStream:
		return l.StreamPerMinute
	default:
		return l.QueryPerMinute
	}
}

type bucket struct {
	tokens float64
	last   time.Time
}

// RateLimiter is a token bucket per (principal, class). Buckets start full
// and refill continuously at the per-minute rate.
type RateLimiter struct {
	limits Limits

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewRateLimiter creates a limiter with the given budgets.
func NewRateLimiter(limits Limits) *RateLimiter {
	limits.applyDefaults()
	return &RateLimiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes one token for the principal and class. When the bucket is
// empty it returns a rate_limited error carrying a retry-after hint.
func (r *RateLimiter) Allow(principal string, class Class) error {
	limit := float64(r.limits.forClass(class))
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	key := principal + "\x00" + string(class)
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: limit, last: now}
		r.buckets[key] = b
	}

	refill := now.Sub(b.last).Minutes() * limit
	b.tokens += refill
	if b.tokens > limit {
		b.tokens = limit
	}
	b.last = now

	if b.tokens < 1 {
		wait := time.Duration((1 - b.tokens) / limit * float64(time.Minute))
		return aterrors.New(aterrors.KindRateLimited,
			"%s rate limit exceeded for %s, retry after %s", class, principal, wait.Round(time.Millisecond))
	}
	b.tokens--
	return nil
}
