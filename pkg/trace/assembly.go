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
	"fmt"
	"sort"
)

// Trace is a set of spans sharing a trace ID, indexed for tree traversal.
// It is derived state, assembled on demand from stored spans; spans hold no
// back-references to the trace.
type Trace struct {
	TraceID string
	Spans   []*Span

	byID     map[string]*Span
	children map[string][]*Span
	root     *Span
}

// Assemble builds a Trace from spans. All spans must share one trace ID and
// exactly one span must be a root. Children are ordered by start time.
func Assemble(spans []*Span) (*Trace, error) {
	if len(spans) == 0 {
		return nil, fmt.Errorf("no spans to assemble")
	}

	tr := &Trace{
		TraceID:  spans[0].TraceID,
		Spans:    spans,
		byID:     make(map[string]*Span, len(spans)),
		children: make(map[string][]*Span),
	}

	for _, s := range spans {
		if s.TraceID != tr.TraceID {
			return nil, fmt.Errorf("span %s belongs to trace %s, not %s", s.SpanID, s.TraceID, tr.TraceID)
		}
		if _, dup := tr.byID[s.SpanID]; dup {
			return nil, fmt.Errorf("duplicate span id %s", s.SpanID)
		}
		tr.byID[s.SpanID] = s
	}

	for _, s := range spans {
		if s.IsRoot() {
			if tr.root != nil {
				return nil, fmt.Errorf("trace %s has multiple roots (%s, %s)", tr.TraceID, tr.root.SpanID, s.SpanID)
			}
			tr.root = s
			continue
		}
		if _, ok := tr.byID[s.ParentSpanID]; !ok {
			return nil, fmt.Errorf("span %s references missing parent %s", s.SpanID, s.ParentSpanID)
		}
		tr.children[s.ParentSpanID] = append(tr.children[s.ParentSpanID], s)
	}

	if tr.root == nil {
		return nil, fmt.Errorf("trace %s has no root span", tr.TraceID)
	}

	for _, kids := range tr.children {
		sort.Slice(kids, func(i, j int) bool {
			return kids[i].StartTime.Before(kids[j].StartTime)
		})
	}

	return tr, nil
}

// Root returns the root span.
func (t *Trace) Root() *Span {
	return t.root
}

// Span returns the span with the given ID, or nil.
func (t *Trace) Span(spanID string) *Span {
	return t.byID[spanID]
}

// Children returns the child spans of spanID ordered by start time.
func (t *Trace) Children(spanID string) []*Span {
	return t.children[spanID]
}

// Walk visits spans depth-first from the root. Returning false stops the walk.
func (t *Trace) Walk(visit func(s *Span, depth int) bool) {
	var rec func(s *Span, depth int) bool
	rec = func(s *Span, depth int) bool {
		if !visit(s, depth) {
			return false
		}
		for _, c := range t.children[s.SpanID] {
			if !rec(c, depth+1) {
				return false
			}
		}
		return true
	}
	rec(t.root, 0)
}

// SpansOfKind returns spans of the given kind in start order.
func (t *Trace) SpansOfKind(kind Kind) []*Span {
	var out []*Span
	for _, s := range t.Spans {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// GroupByTrace partitions spans by trace ID. Spans that fail assembly for a
// trace (orphaned parents, multiple roots) are reported in the second return
// value, keyed by trace ID.
func GroupByTrace(spans []*Span) (map[string]*Trace, map[string]error) {
	buckets := make(map[string][]*Span)
	for _, s := range spans {
		buckets[s.TraceID] = append(buckets[s.TraceID], s)
	}

	traces := make(map[string]*Trace, len(buckets))
	failed := make(map[string]error)
	for id, group := range buckets {
		tr, err := Assemble(group)
		if err != nil {
			failed[id] = err
			continue
		}
		traces[id] = tr
	}
	return traces, failed
}
