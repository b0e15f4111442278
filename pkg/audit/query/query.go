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
// Package query is the read surface over the audit log: filtered
// cursor-paginated queries, event context windows, aggregation, actor
// activity, and the live event stream. Every call is capability-checked,
// rate-limited, and itself audited.
package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/internal/pubsub"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit"
)

// Pagination bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Self-audit event types.
const (
	EventTypeViewed   = "audit_log.viewed"
	EventTypeExported = "audit_log.exported"
)

// Recorder accepts the read surface's own audit events. The chain service
// satisfies it.
type Recorder interface {
	Capture(ctx context.Context, entry *audit.Entry) (*audit.Event, error)
}

// Filter selects events. OrganizationID and the time range are required;
// everything else narrows the result.
type Filter struct {
	OrganizationID string          `json:"organization_id"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	ActorID        string          `json:"actor_id,omitempty"`
	ActorType      audit.ActorType `json:"actor_type,omitempty"`
	Category       audit.Category  `json:"category,omitempty"`
	EventType      string          `json:"event_type,omitempty"`
	ResourceType   string          `json:"resource_type,omitempty"`
	ResourceID     string          `json:"resource_id,omitempty"`
	Action         audit.Action    `json:"action,omitempty"`
	Severity       audit.Severity  `json:"severity,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	Cursor         string          `json:"cursor,omitempty"`
}

// Cursor marks a position in the (timestamp DESC, event_id DESC) order.
// Cursors are stateless: any holder can decode them.
type Cursor struct {
	LastTS      time.Time `json:"last_ts"`
	LastEventID string    `json:"last_event_id"`
}

// Encode serializes the cursor as base64 JSON.
func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor parses a cursor produced by Encode.
func DecodeCursor(s string) (Cursor, error) {
	var c Cursor
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return c, aterrors.Wrap(aterrors.KindValidation, err, "malformed cursor")
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, aterrors.Wrap(aterrors.KindValidation, err, "malformed cursor")
	}
	return c, nil
}

// Metadata describes how a query was answered.
type Metadata struct {
	TimeRangeMS    int64    `json:"time_range_ms"`
	FiltersApplied []string `json:"filters_applied"`
}

// Result is one page of matching events, newest first.
type Result struct {
	Events     []*audit.Event `json:"events"`
	NextCursor string         `json:"next_cursor,omitempty"`
	Metadata   Metadata       `json:"query_metadata"`
}

// Config wires the read surface's collaborators.
type Config struct {
	// Recorder receives the self-audit events; nil disables self-auditing
	// (tests only).
	Recorder Recorder
	// Stream is the chain service's committed-event broker, for live
	// subscribers.
	Stream *pubsub.Broker[*audit.Event]
	// Limits overrides the per-principal rate budgets.
	Limits Limits
}

// Service answers audit read requests against a storage backend.
type Service struct {
	storage  audit.Storage
	recorder Recorder
	stream   *pubsub.Broker[*audit.Event]
	limiter  *RateLimiter
	now      func() time.Time
}

// NewService creates the read surface over a storage backend.
func NewService(storage audit.Storage, cfg Config) *Service {
	return &Service{
		storage:  storage,
		recorder: cfg.Recorder,
		stream:   cfg.Stream,
		limiter:  NewRateLimiter(cfg.Limits),
		now:      time.Now,
	}
}

// Query returns one page of events matching the filter, ordered
// (timestamp DESC, event_id DESC).
func (s *Service) Query(ctx context.Context, principal *Principal, f Filter) (*Result, error) {
	if err := s.admit(principal, ClassQuery); err != nil {
		return nil, err
	}
	if err := validateRange(f.OrganizationID, f.From, f.To); err != nil {
		return nil, err
	}

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	events, err := s.storage.QueryEvents(ctx, f.OrganizationID, f.From, f.To)
	if err != nil {
		return nil, err
	}

	matched, applied := applyFilter(events, f)
	sortNewestFirst(matched)

	if f.Cursor != "" {
		cursor, err := DecodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		matched = afterCursor(matched, cursor)
	}

	result := &Result{
		Metadata: Metadata{
			TimeRangeMS:    f.To.Sub(f.From).Milliseconds(),
			FiltersApplied: applied,
		},
	}
	if len(matched) > limit {
		result.Events = matched[:limit]
		last := result.Events[limit-1]
		result.NextCursor = Cursor{LastTS: last.Timestamp, LastEventID: last.EventID}.Encode()
	} else {
		result.Events = matched
	}

	s.selfAudit(ctx, principal, f.OrganizationID, EventTypeViewed, audit.ActionRead)
	return result, nil
}

func (s *Service) admit(principal *Principal, class Class) error {
	if err := principal.Require(CapabilityRead); err != nil {
		return err
	}
	return s.limiter.Allow(principal.ID, class)
}

func validateRange(org string, from, to time.Time) error {
	if org == "" {
		return aterrors.New(aterrors.KindValidation, "organization_id is required")
	}
	if from.IsZero() || to.IsZero() {
		return aterrors.New(aterrors.KindValidation, "time range is required")
	}
	if !from.Before(to) {
		return aterrors.New(aterrors.KindValidation, "time range is empty")
	}
	return nil
}

// FilterEvents returns the events matching the filter's attribute
// predicates, ignoring pagination. The export worker reuses it.
func FilterEvents(events []*audit.Event, f Filter) []*audit.Event {
	out, _ := applyFilter(events, f)
	return out
}

func applyFilter(events []*audit.Event, f Filter) ([]*audit.Event, []string) {
	applied := []string{"organization_id", "time_range"}
	type predicate struct {
		name string
		keep func(*audit.Event) bool
	}
	var preds []predicate
	add := func(name string, active bool, keep func(*audit.Event) bool) {
		if active {
			preds = append(preds, predicate{name, keep})
			applied = append(applied, name)
		}
	}
	add("actor_id", f.ActorID != "", func(e *audit.Event) bool { return e.Actor.ID == f.ActorID })
	add("actor_type", f.ActorType != "", func(e *audit.Event) bool { return e.Actor.Type == f.ActorType })
	add("event_category", f.Category != "", func(e *audit.Event) bool { return e.Classification.Category == f.Category })
	add("event_type", f.EventType != "", func(e *audit.Event) bool { return e.Classification.Type == f.EventType })
	add("resource_type", f.ResourceType != "", func(e *audit.Event) bool { return e.Resource.Type == f.ResourceType })
	add("resource_id", f.ResourceID != "", func(e *audit.Event) bool { return e.Resource.ID == f.ResourceID })
	add("action", f.Action != "", func(e *audit.Event) bool { return e.Action == f.Action })
	add("severity", f.Severity != "", func(e *audit.Event) bool { return e.Classification.Severity == f.Severity })

	if len(preds) == 0 {
		return events, applied
	}
	var out []*audit.Event
	for _, e := range events {
		keep := true
		for _, p := range preds {
			if !p.keep(e) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, e)
		}
	}
	return out, applied
}

func sortNewestFirst(events []*audit.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].EventID > events[j].EventID
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

// afterCursor keeps events strictly past the cursor position in the
// descending order: (timestamp, event_id) < (last_ts, last_event_id).
func afterCursor(events []*audit.Event, c Cursor) []*audit.Event {
	var out []*audit.Event
	for _, e := range events {
		if e.Timestamp.Before(c.LastTS) ||
			(e.Timestamp.Equal(c.LastTS) && e.EventID < c.LastEventID) {
			out = append(out, e)
		}
	}
	return out
}

// Stream subscribes the principal to committed events. The channel closes
// when ctx ends, the subscriber falls behind, or the service shuts down.
func (s *Service) Stream(ctx context.Context, principal *Principal) (<-chan *audit.Event, error) {
	if err := principal.Require(CapabilityRead); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(principal.ID, ClassStream); err != nil {
		return nil, err
	}
	if s.stream == nil {
		return nil, aterrors.New(aterrors.KindInternal, "live stream not configured")
	}
	return s.stream.Subscribe(ctx), nil
}

// selfAudit records the read itself. Failures are logged, never surfaced:
// a broken self-audit path must not take down the read surface.
func (s *Service) selfAudit(ctx context.Context, principal *Principal, org, eventType string, action audit.Action) {
	if s.recorder == nil {
		return
	}
	_, err := s.recorder.Capture(ctx, &audit.Entry{
		OrganizationID: org,
		Actor:          audit.Actor{Type: audit.ActorUser, ID: principal.ID},
		Classification: audit.Classification{
			Category: audit.CategoryAdmin,
			Type:     eventType,
			Severity: audit.SeverityInfo,
		},
		Resource:  audit.Resource{Type: "audit_log", ID: org},
		Action:    action,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		log.Warn("self-audit capture failed",
			zap.String("event_type", eventType),
			zap.String("org", org),
			zap.Error(err))
	}
}
