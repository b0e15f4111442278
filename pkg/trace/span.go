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
// Package trace provides the canonical span model for instrumented agents.
//
// A span is a single operation in an agent's execution: an LLM call, a tool
// invocation, a retrieval, or a whole agent turn. Spans sharing a trace ID
// form a tree via parent references; the tree itself is never persisted, it
// is reconstructed on demand (see assembly.go).
//
// Example usage:
//
//	ctx, span := tracer.StartSpan(ctx, "llm.completion", trace.WithKind(trace.KindLLMCall))
//	defer tracer.EndSpan(span)
//	span.SetLLMCall(trace.LLMCall{Provider: "anthropic", Model: model, InputTokens: 812})
package trace

import (
	"fmt"
	"time"
)

// Kind classifies the operation a span represents.
type Kind string

const (
	KindAgent     Kind = "agent"
	KindLLMCall   Kind = "llm_call"
	KindToolCall  Kind = "tool_call"
	KindRetrieval Kind = "retrieval"
	KindCustom    Kind = "custom"
)

// Status is the terminal status of a span.
type Status string

const (
	StatusOK Status = "ok"
	StatusError Status = "error"
	// StatusCancelled marks spans closed by shutdown rather than by the
	// operation completing. Their end timestamp is synthetic.
	StatusCancelled Status = "cancelled"
)

// ErrorInfo describes an error recorded on a span.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Event is a point-in-time occurrence within a span.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attrs,omitempty"`
}

// Span is a single operation in an agent's execution trace.
// Spans are mutable until closed by the tracer, immutable after.
type Span struct {
	SpanID       string `json:"span_id"`
	TraceID      string `json:"trace_id"`
	ParentSpanID string `json:"parent_span_id,omitempty"`

	Kind Kind   `json:"kind"`
	Name string `json:"name"`

	StartTime time.Time `json:"start_ts"`
	EndTime   time.Time `json:"end_ts"`

	Status     Status         `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Events     []Event        `json:"events,omitempty"`
	Links      []string       `json:"links,omitempty"`

	Input  string     `json:"input,omitempty"`
	Output string     `json:"output,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// SetAttribute sets a key-value attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	s.Attributes[key] = value
}

// AddEvent appends a timestamped event to the span.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.Events = append(s.Events, Event{
		Timestamp:  time.Now().UTC(),
		Name:       name,
		Attributes: attrs,
	})
}

// AddLink records a reference to a span in another trace.
func (s *Span) AddLink(spanID string) {
	for _, l := range s.Links {
		if l == spanID {
			return
		}
	}
	s.Links = append(s.Links, spanID)
}

// RecordError attaches error details and sets status=error without closing
// the span.
func (s *Span) RecordError(kind string, err error, stack string) {
	if err == nil {
		return
	}
	s.Status = StatusError
	s.Error = &ErrorInfo{
		Kind:    kind,
		Message: err.Error(),
		Stack:   stack,
	}
}

// Duration returns the elapsed time of a closed span, zero if still open.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// IsRoot reports whether the span has no parent.
func (s *Span) IsRoot() bool {
	return s.ParentSpanID == ""
}

// LLMCall carries the structured attributes of an llm_call span.
type LLMCall struct {
	Provider     string
	Model        string
	Messages     []map[string]string
	InputTokens  int
	OutputTokens int
	Temperature  float64
}

// SetLLMCall sets the structured attributes for an LLM call.
func (s *Span) SetLLMCall(c LLMCall) {
	s.Kind = KindLLMCall
	s.SetAttribute("llm.provider", c.Provider)
	s.SetAttribute("llm.model", c.Model)
	s.SetAttribute("llm.tokens.input", c.InputTokens)
	s.SetAttribute("llm.tokens.output", c.OutputTokens)
	s.SetAttribute("llm.temperature", c.Temperature)
	if len(c.Messages) > 0 {
		s.SetAttribute("llm.messages", c.Messages)
	}
}

// ToolCall carries the structured attributes of a tool_call span.
type ToolCall struct {
	Tool   string
	Args   map[string]any
	Result string
	Err    error
}

// SetToolCall sets the structured attributes for a tool invocation.
func (s *Span) SetToolCall(c ToolCall) {
	s.Kind = KindToolCall
	s.SetAttribute("tool.name", c.Tool)
	if c.Args != nil {
		s.SetAttribute("tool.args", c.Args)
	}
	if c.Result != "" {
		s.SetAttribute("tool.result", c.Result)
	}
	if c.Err != nil {
		s.RecordError("tool_error", c.Err, "")
	}
}

// Retrieval carries the structured attributes of a retrieval span.
type Retrieval struct {
	Query     string
	Documents []string
	Scores    []float64
}

// SetRetrieval sets the structured attributes for a retrieval operation.
func (s *Span) SetRetrieval(r Retrieval) {
	s.Kind = KindRetrieval
	s.SetAttribute("retrieval.query", r.Query)
	s.SetAttribute("retrieval.documents", r.Documents)
	if len(r.Scores) > 0 {
		s.SetAttribute("retrieval.scores", r.Scores)
	}
}

// Validate checks the span invariants: a closed span must not end before it
// starts, and identifiers must be present.
func (s *Span) Validate() error {
	if s.SpanID == "" {
		return fmt.Errorf("span missing span_id")
	}
	if s.TraceID == "" {
		return fmt.Errorf("span %s missing trace_id", s.SpanID)
	}
	if !s.EndTime.IsZero() && s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("span %s ends before it starts", s.SpanID)
	}
	return nil
}
