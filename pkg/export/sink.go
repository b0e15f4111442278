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
// Package export delivers closed spans to sinks with batching, retry, and
// at-least-once semantics.
package export

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

// Outcome classifies an export attempt for retry purposes.
type Outcome int

const (
	// Delivered means the sink accepted the batch.
	Delivered Outcome = iota
	// TransientFailure means the batch may succeed on retry.
	TransientFailure
	// PermanentFailure means retrying cannot help; the batch is dead-lettered.
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Sink is a destination for exported span batches.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Export delivers a batch. The outcome drives retry behavior; err carries
	// detail for logging.
	Export(ctx context.Context, batch []*trace.Span) (Outcome, error)
}

// ConsoleSink writes spans to stdout, one JSON line each. Development only.
type ConsoleSink struct{}

// NewConsoleSink creates a console sink.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

// Name implements Sink.
func (s *ConsoleSink) Name() string { return "console" }

// Export implements Sink.
func (s *ConsoleSink) Export(ctx context.Context, batch []*trace.Span) (Outcome, error) {
	for _, span := range batch {
		line, err := trace.MarshalWire(span)
		if err != nil {
			return PermanentFailure, fmt.Errorf("marshal span %s: %w", span.SpanID, err)
		}
		fmt.Fprintln(os.Stdout, string(line))
	}
	return Delivered, nil
}

// CompositeSink fans a batch out to multiple sinks. Each child keeps its own
// retry state: one child failing transiently does not force a retry on
// children that already delivered.
type CompositeSink struct {
	sinks []Sink
	retry RetryPolicy
	dead  *DeadLetter
}

// NewCompositeSink creates a fan-out sink over children.
func NewCompositeSink(retry RetryPolicy, dead *DeadLetter, sinks ...Sink) *CompositeSink {
	return &CompositeSink{sinks: sinks, retry: retry, dead: dead}
}

// Name implements Sink.
func (s *CompositeSink) Name() string { return "composite" }

// Export implements Sink. Children are attempted independently with the
// composite's retry policy; the composite itself reports Delivered once every
// child has either delivered or been dead-lettered, so the pipeline never
// re-sends a composite batch.
func (s *CompositeSink) Export(ctx context.Context, batch []*trace.Span) (Outcome, error) {
	for _, child := range s.sinks {
		outcome, err := ExportWithRetry(ctx, child, batch, s.retry)
		if outcome != Delivered {
			log.Warn("composite child sink failed, dead-lettering batch",
				zap.String("sink", child.Name()),
				zap.Int("spans", len(batch)),
				zap.Error(err))
			if s.dead != nil {
				if dlErr := s.dead.WriteSpans(child.Name(), batch); dlErr != nil {
					log.Error("dead-letter write failed", zap.Error(dlErr))
				}
			}
		}
	}
	return Delivered, nil
}
