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
package trace

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
)

// Emitter receives closed spans. The export pipeline implements this.
// Emit must never block the caller for long and must never panic upward.
type Emitter interface {
	Emit(span *Span)
}

// SpanOption configures a span at creation time.
type SpanOption func(*Span)

// WithKind sets the span kind.
func WithKind(kind Kind) SpanOption {
	return func(s *Span) { s.Kind = kind }
}

// WithAttribute sets an attribute at creation time.
func WithAttribute(key string, value any) SpanOption {
	return func(s *Span) { s.SetAttribute(key, value) }
}

// WithParent explicitly sets the parent span. Overrides context inference.
func WithParent(parent *Span) SpanOption {
	return func(s *Span) {
		if parent != nil {
			s.TraceID = parent.TraceID
			s.ParentSpanID = parent.SpanID
		}
	}
}

// WithInput sets the span input payload.
func WithInput(input string) SpanOption {
	return func(s *Span) { s.Input = input }
}

type contextKey string

const spanContextKey contextKey = "agenttrace.span"

// SpanFromContext retrieves the current span from context, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan returns a new context with the span attached.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

// Tracer creates spans, propagates the current span through contexts, and
// hands closed spans to the emitter.
//
// Thread-safe: all methods can be called concurrently. Goroutines doing work
// for a span must carry the returned context across the goroutine boundary;
// there is no implicit task-local state.
type Tracer struct {
	emitter Emitter

	mu   sync.Mutex
	open map[string]*Span

	droppedInvalidParent atomic.Int64
	closed               atomic.Bool
}

// NewTracer creates a tracer delivering closed spans to emitter.
func NewTracer(emitter Emitter) *Tracer {
	return &Tracer{
		emitter: emitter,
		open:    make(map[string]*Span),
	}
}

// StartSpan creates a new span. If the context carries a current span the new
// span becomes its child and shares its trace; otherwise it becomes a root of
// a fresh trace.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		SpanID:    uuid.New().String(),
		TraceID:   uuid.New().String(),
		Kind:      KindCustom,
		Name:      name,
		StartTime: time.Now().UTC(),
		Status:    StatusOK,
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentSpanID = parent.SpanID
	}

	for _, opt := range opts {
		opt(span)
	}

	// A parent forced via WithParent must share the trace. A mismatch means
	// the caller stitched spans across traces; the child is dropped rather
	// than corrupting either tree.
	if span.ParentSpanID != "" {
		if parent := t.lookupOpen(span.ParentSpanID); parent != nil && parent.TraceID != span.TraceID {
			t.droppedInvalidParent.Add(1)
			log.Warn("dropping span with cross-trace parent",
				zap.String("span", span.Name),
				zap.String("parent_span_id", span.ParentSpanID))
			return ctx, nil
		}
	}

	t.mu.Lock()
	t.open[span.SpanID] = span
	t.mu.Unlock()

	return ContextWithSpan(ctx, span), span
}

// EndSpan closes a span and forwards it to the emitter. Safe to call with
// nil (a dropped span) and idempotent per span.
func (t *Tracer) EndSpan(span *Span) {
	if span == nil {
		return
	}

	t.mu.Lock()
	if _, ok := t.open[span.SpanID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.open, span.SpanID)
	t.mu.Unlock()

	if span.EndTime.IsZero() {
		span.EndTime = time.Now().UTC()
	}

	if err := span.Validate(); err != nil {
		t.droppedInvalidParent.Add(1)
		log.Warn("dropping invalid span", zap.Error(err))
		return
	}

	if t.emitter != nil {
		t.emitter.Emit(span)
	}
}

// DroppedSpans returns the count of spans dropped for invalid linkage.
func (t *Tracer) DroppedSpans() int64 {
	return t.droppedInvalidParent.Load()
}

// OpenSpans returns the number of spans started but not yet ended.
func (t *Tracer) OpenSpans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// Shutdown closes all still-open spans as cancelled with a synthetic end
// timestamp (the last observed event, falling back to now) and emits them on
// a best-effort basis.
func (t *Tracer) Shutdown() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	orphans := make([]*Span, 0, len(t.open))
	for _, s := range t.open {
		orphans = append(orphans, s)
	}
	t.open = make(map[string]*Span)
	t.mu.Unlock()

	for _, s := range orphans {
		s.Status = StatusCancelled
		s.EndTime = syntheticEnd(s)
		if t.emitter != nil {
			t.emitter.Emit(s)
		}
	}

	if len(orphans) > 0 {
		log.Info("flushed open spans on shutdown", zap.Int("count", len(orphans)))
	}
}

func (t *Tracer) lookupOpen(spanID string) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open[spanID]
}

// syntheticEnd picks the last observed event time, or the start time if the
// span never recorded an event after it began.
func syntheticEnd(s *Span) time.Time {
	end := s.StartTime
	for _, e := range s.Events {
		if e.Timestamp.After(end) {
			end = e.Timestamp
		}
	}
	return end
}
