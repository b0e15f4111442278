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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkSpan(traceID, spanID, parent string, start time.Time) *Span {
	return &Span{
		SpanID:       spanID,
		TraceID:      traceID,
		ParentSpanID: parent,
		Kind:         KindCustom,
		Name:         spanID,
		StartTime:    start,
		EndTime:      start.Add(time.Second),
		Status:       StatusOK,
	}
}

func TestAssembleTree(t *testing.T) {
	t0 := time.Now().UTC()
	spans := []*Span{
		mkSpan("t1", "root", "", t0),
		mkSpan("t1", "b", "root", t0.Add(2*time.Second)),
		mkSpan("t1", "a", "root", t0.Add(time.Second)),
		mkSpan("t1", "a1", "a", t0.Add(1500*time.Millisecond)),
	}

	tr, err := Assemble(spans)
	require.NoError(t, err)
	assert.Equal(t, "root", tr.Root().SpanID)

	kids := tr.Children("root")
	require.Len(t, kids, 2)
	assert.Equal(t, "a", kids[0].SpanID, "children ordered by start time")
	assert.Equal(t, "b", kids[1].SpanID)

	var order []string
	tr.Walk(func(s *Span, depth int) bool {
		order = append(order, s.SpanID)
		return true
	})
	assert.Equal(t, []string{"root", "a", "a1", "b"}, order)
}

func TestAssembleErrors(t *testing.T) {
	t0 := time.Now().UTC()

	tests := []struct {
		name  string
		spans []*Span
	}{
		{"no root", []*Span{mkSpan("t1", "a", "missing-root", t0), mkSpan("t1", "missing-root", "a", t0)}},
		{"two roots", []*Span{mkSpan("t1", "r1", "", t0), mkSpan("t1", "r2", "", t0)}},
		{"missing parent", []*Span{mkSpan("t1", "r", "", t0), mkSpan("t1", "c", "ghost", t0)}},
		{"mixed traces", []*Span{mkSpan("t1", "r", "", t0), mkSpan("t2", "c", "r", t0)}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.spans)
			assert.Error(t, err)
		})
	}
}

func TestGroupByTrace(t *testing.T) {
	t0 := time.Now().UTC()
	spans := []*Span{
		mkSpan("good", "r", "", t0),
		mkSpan("good", "c", "r", t0),
		mkSpan("bad", "x", "nowhere", t0),
	}

	traces, failed := GroupByTrace(spans)
	assert.Len(t, traces, 1)
	assert.Contains(t, traces, "good")
	assert.Contains(t, failed, "bad")
}
