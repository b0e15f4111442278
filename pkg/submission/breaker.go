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
	"sync"
	"time"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Circuit breaker defaults.
const (
	BreakerFailureThreshold = 5
	BreakerSuccessThreshold = 2
	BreakerResetTimeout     = 300 * time.Second
)

// CircuitState is the breaker's current position.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one endpoint's breaker. Zero values take the
// defaults.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = BreakerFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = BreakerSuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = BreakerResetTimeout
	}
}

// CircuitBreaker guards one endpoint. closed counts consecutive failures
// and opens at the threshold; open rejects until the reset timeout, then
// half_open admits a single probe at a time; consecutive probe successes
// close it again and any probe failure reopens it.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, now: time.Now}
}

// State reports the current state, applying the open→half_open timer.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickLocked()
	return b.state
}

// Ready reports whether the endpoint accepts work at all, without
// consuming the half-open probe slot. Open circuits return a
// circuit_open error.
func (b *CircuitBreaker) Ready() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickLocked()
	if b.state == CircuitOpen {
		wait := b.cfg.ResetTimeout - b.now().Sub(b.openedAt)
		return aterrors.New(aterrors.KindCircuitOpen, "endpoint circuit open, retry in %s", wait.Round(time.Second))
	}
	return nil
}

// Allow reports whether a request may proceed. In half_open only one probe
// is admitted at a time; rejected callers get a circuit_open error.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickLocked()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitHalfOpen:
		if b.probeInFlight {
			return aterrors.New(aterrors.KindCircuitOpen, "endpoint probe already in flight")
		}
		b.probeInFlight = true
		return nil
	default:
		wait := b.cfg.ResetTimeout - b.now().Sub(b.openedAt)
		return aterrors.New(aterrors.KindCircuitOpen, "endpoint circuit open, retry in %s", wait.Round(time.Second))
	}
}

// RecordSuccess feeds a successful invocation back into the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.probeInFlight = false
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure feeds a failed invocation back into the breaker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case CircuitHalfOpen:
		b.probeInFlight = false
		b.openLocked()
	}
}

func (b *CircuitBreaker) openLocked() {
	b.state = CircuitOpen
	b.openedAt = b.now()
	b.successes = 0
}

func (b *CircuitBreaker) tickLocked() {
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = CircuitHalfOpen
		b.successes = 0
		b.probeInFlight = false
	}
}

// BreakerSet holds one breaker per endpoint key.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates a set that builds breakers with cfg on demand.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// For returns the breaker guarding the given endpoint key.
func (s *BreakerSet) For(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewCircuitBreaker(s.cfg)
		s.breakers[key] = b
	}
	return b
}

// GuardAgent wraps an agent so every invocation consults and feeds the
// endpoint's breaker. Only agent-kind failures count against it;
// validation errors pass through untallied.
func GuardAgent(inner Agent, breaker *CircuitBreaker) Agent {
	return &guardedAgent{inner: inner, breaker: breaker}
}

type guardedAgent struct {
	inner   Agent
	breaker *CircuitBreaker
}

func (g *guardedAgent) Key() string { return g.inner.Key() }

func (g *guardedAgent) Invoke(ctx context.Context, prompt string, timeout time.Duration) (*InvokeResult, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	result, err := g.inner.Invoke(ctx, prompt, timeout)
	switch aterrors.KindOf(err) {
	case aterrors.KindAgent, aterrors.KindAgentTimeout, aterrors.KindAgentUnreachable:
		g.breaker.RecordFailure()
	default:
		if err == nil {
			g.breaker.RecordSuccess()
		}
	}
	return result, err
}
