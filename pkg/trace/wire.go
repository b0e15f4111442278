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
	"encoding/json"
	"fmt"
	"time"
)

// WireSpan is the representation exported to sinks. Timestamps are RFC 3339
// with nanosecond precision in UTC.
type WireSpan struct {
	SpanID       string         `json:"span_id"`
	TraceID      string         `json:"trace_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Kind         string         `json:"kind"`
	Name         string         `json:"name"`
	StartTime    string         `json:"start_ts"`
	EndTime      string         `json:"end_ts"`
	DurationMS   int64          `json:"duration_ms"`
	Status       string         `json:"status"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Events       []WireEvent    `json:"events,omitempty"`
	Links        []string       `json:"links,omitempty"`
	Input        string         `json:"input,omitempty"`
	Output       string         `json:"output,omitempty"`
	Error        *ErrorInfo     `json:"error,omitempty"`
}

// WireEvent is the exported form of a span event.
type WireEvent struct {
	Timestamp  string         `json:"ts"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attrs,omitempty"`
}

// ToWire converts a closed span to its export representation.
func ToWire(s *Span) WireSpan {
	w := WireSpan{
		SpanID:       s.SpanID,
		TraceID:      s.TraceID,
		ParentSpanID: s.ParentSpanID,
		Kind:         string(s.Kind),
		Name:         s.Name,
		StartTime:    s.StartTime.UTC().Format(time.RFC3339Nano),
		EndTime:      s.EndTime.UTC().Format(time.RFC3339Nano),
		DurationMS:   s.Duration().Milliseconds(),
		Status:       string(s.Status),
		Attributes:   s.Attributes,
		Links:        s.Links,
		Input:        s.Input,
		Output:       s.Output,
		Error:        s.Error,
	}
	if len(s.Events) > 0 {
		w.Events = make([]WireEvent, len(s.Events))
		for i, e := range s.Events {
			w.Events[i] = WireEvent{
				Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
				Name:       e.Name,
				Attributes: e.Attributes,
			}
		}
	}
	return w
}

// FromWire converts an exported span back to the in-memory model.
func FromWire(w WireSpan) (*Span, error) {
	start, err := time.Parse(time.RFC3339Nano, w.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start_ts: %w", err)
	}
	end, err := time.Parse(time.RFC3339Nano, w.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end_ts: %w", err)
	}

	s := &Span{
		SpanID:       w.SpanID,
		TraceID:      w.TraceID,
		ParentSpanID: w.ParentSpanID,
		Kind:         Kind(w.Kind),
		Name:         w.Name,
		StartTime:    start,
		EndTime:      end,
		Status:       Status(w.Status),
		Attributes:   w.Attributes,
		Links:        w.Links,
		Input:        w.Input,
		Output:       w.Output,
		Error:        w.Error,
	}
	for _, e := range w.Events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse event ts: %w", err)
		}
		s.Events = append(s.Events, Event{Timestamp: ts, Name: e.Name, Attributes: e.Attributes})
	}
	return s, s.Validate()
}

// MarshalWire renders a span as a single JSON line.
func MarshalWire(s *Span) ([]byte, error) {
	return json.Marshal(ToWire(s))
}

// UnmarshalWire parses a JSON line into a span.
func UnmarshalWire(data []byte) (*Span, error) {
	var w WireSpan
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal span: %w", err)
	}
	return FromWire(w)
}
