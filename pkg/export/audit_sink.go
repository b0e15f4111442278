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
	"fmt"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

// SecuritySensitive is the span attribute that routes a span into the
// audit log.
const SecuritySensitive = "security_sensitive"

// attrOrganization carries the owning org on instrumented spans; spans
// without it cannot be chained and are skipped.
const attrOrganization = "organization_id"

// AuditSink forwards security-sensitive spans into the tamper-evident
// audit log. Non-sensitive spans pass through untouched; the sink only
// sees its own slice of the stream.
type AuditSink struct {
	service *audit.Service
	// filter decides which spans are audit-worthy. Defaults to spans
	// carrying the security_sensitive attribute.
	filter func(*trace.Span) bool
}

// AuditSinkOption configures an AuditSink.
type AuditSinkOption func(*AuditSink)

// WithAuditFilter replaces the default sensitivity predicate.
func WithAuditFilter(filter func(*trace.Span) bool) AuditSinkOption {
	return func(s *AuditSink) { s.filter = filter }
}

// NewAuditSink creates a sink writing to the given audit service.
func NewAuditSink(service *audit.Service, opts ...AuditSinkOption) *AuditSink {
	s := &AuditSink{
		service: service,
		filter: func(span *trace.Span) bool {
			v, ok := span.Attributes[SecuritySensitive]
			flagged, _ := v.(bool)
			return ok && flagged
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Sink.
func (s *AuditSink) Name() string { return "audit" }

// Export implements Sink. Capture failures are transient: the audit
// service's storage may recover, and at-least-once delivery plus chain
// dedup absorbs the replay.
func (s *AuditSink) Export(ctx context.Context, batch []*trace.Span) (Outcome, error) {
	for _, span := range batch {
		if !s.filter(span) {
			continue
		}
		entry, ok := entryForSpan(span)
		if !ok {
			continue
		}
		if _, err := s.service.Capture(ctx, entry); err != nil {
			if aterrors.IsKind(err, aterrors.KindValidation) {
				return PermanentFailure, fmt.Errorf("span %s not auditable: %w", span.SpanID, err)
			}
			return TransientFailure, fmt.Errorf("audit capture for span %s: %w", span.SpanID, err)
		}
	}
	return Delivered, nil
}

// entryForSpan translates a span into an audit entry. The org attribute is
// required; actor and session details are picked up when present.
func entryForSpan(span *trace.Span) (*audit.Entry, bool) {
	org, _ := span.Attributes[attrOrganization].(string)
	if org == "" {
		return nil, false
	}

	actorID, _ := span.Attributes["actor_id"].(string)
	if actorID == "" {
		actorID = "agent:" + span.TraceID
	}
	severity := audit.SeverityInfo
	if span.Status == trace.StatusError {
		severity = audit.SeverityWarning
	}

	entry := &audit.Entry{
		OrganizationID: org,
		Actor:          audit.Actor{Type: audit.ActorService, ID: actorID},
		Classification: audit.Classification{
			Category: audit.CategoryData,
			Type:     "span." + span.Name,
			Severity: severity,
		},
		Resource:  audit.Resource{Type: "trace", ID: span.TraceID, Name: span.Name},
		Action:    audit.ActionCreate,
		RequestID: span.SpanID,
		Timestamp: span.StartTime,
		NewState: map[string]any{
			"span_id": span.SpanID,
			"kind":    string(span.Kind),
			"status":  string(span.Status),
		},
	}
	if project, ok := span.Attributes["project_id"].(string); ok && project != "" {
		entry.ProjectID = project
	}
	if session, ok := span.Attributes["session_id"].(string); ok && session != "" {
		entry.SessionID = session
	}
	return entry, true
}
