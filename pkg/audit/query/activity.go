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
	"context"
	"time"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit"
)

// Actor activity bounds.
const (
	DefaultActivityLimit = 1000
	MaxActivityLimit     = 10000
)

// ActorActivity profiles one actor's events over a window.
type ActorActivity struct {
	ActorID      string         `json:"actor_id"`
	Total        int            `json:"total"`
	ByCategory   map[string]int `json:"by_category"`
	ByAction     map[string]int `json:"by_action"`
	FirstEvent   time.Time      `json:"first_event,omitempty"`
	LastEvent    time.Time      `json:"last_event,omitempty"`
	TopResources []Count        `json:"top_resources"`
	Timeline     map[string]int `json:"timeline"`
	// Events holds the actor's events oldest first, up to the limit.
	Events []*audit.Event `json:"events"`
	// Truncated is set when the actor had more events than the limit.
	Truncated bool `json:"truncated,omitempty"`
}

// ActorActivityFor profiles an actor within an organization over [from,
// to). The event list is capped at limit (default 1000, max 10000);
// aggregates always cover every matching event.
func (s *Service) ActorActivityFor(ctx context.Context, principal *Principal, org, actorID string, from, to time.Time, limit int) (*ActorActivity, error) {
	if err := s.admit(principal, ClassQuery); err != nil {
		return nil, err
	}
	if err := validateRange(org, from, to); err != nil {
		return nil, err
	}
	if actorID == "" {
		return nil, aterrors.New(aterrors.KindValidation, "actor_id is required")
	}
	switch {
	case limit <= 0:
		limit = DefaultActivityLimit
	case limit > MaxActivityLimit:
		limit = MaxActivityLimit
	}

	events, err := s.storage.QueryEvents(ctx, org, from, to)
	if err != nil {
		return nil, err
	}

	activity := &ActorActivity{
		ActorID:    actorID,
		ByCategory: make(map[string]int),
		ByAction:   make(map[string]int),
		Timeline:   make(map[string]int),
	}
	resources := make(map[string]int)

	for _, e := range events {
		if e.Actor.ID != actorID {
			continue
		}
		activity.Total++
		activity.ByCategory[string(e.Classification.Category)]++
		activity.ByAction[string(e.Action)]++
		activity.Timeline[e.Day()]++
		resources[e.Resource.Type+"/"+e.Resource.ID]++

		if activity.FirstEvent.IsZero() || e.Timestamp.Before(activity.FirstEvent) {
			activity.FirstEvent = e.Timestamp
		}
		if e.Timestamp.After(activity.LastEvent) {
			activity.LastEvent = e.Timestamp
		}
		if len(activity.Events) < limit {
			activity.Events = append(activity.Events, e)
		} else {
			activity.Truncated = true
		}
	}
	activity.TopResources = topCounts(resources, TopN)

	s.selfAudit(ctx, principal, org, EventTypeViewed, audit.ActionRead)
	return activity, nil
}
