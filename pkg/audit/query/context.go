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

// EventContext is an event with its chain neighborhood and a verification
// report covering the whole window.
type EventContext struct {
	Event  *audit.Event       `json:"event"`
	Before []*audit.Event     `json:"before,omitempty"`
	After  []*audit.Event     `json:"after,omitempty"`
	Chain  *audit.ChainReport `json:"chain"`
}

// GetWithContext returns the event with up to before preceding and after
// succeeding events from the same (organization, day) chain, and verifies
// the hash chain over exactly that window.
func (s *Service) GetWithContext(ctx context.Context, principal *Principal, org, eventID string, before, after int) (*EventContext, error) {
	if err := s.admit(principal, ClassQuery); err != nil {
		return nil, err
	}
	if org == "" || eventID == "" {
		return nil, aterrors.New(aterrors.KindValidation, "organization_id and event_id are required")
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	event, err := s.storage.GetEvent(ctx, org, eventID)
	if err != nil {
		return nil, err
	}

	dayStart := event.Timestamp.UTC().Truncate(24 * time.Hour)
	day, err := s.storage.QueryEvents(ctx, org, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	at := -1
	for i, e := range day {
		if e.EventID == eventID {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, aterrors.New(aterrors.KindIntegrity, "event %s missing from its day partition", eventID)
	}

	lo := at - before
	if lo < 0 {
		lo = 0
	}
	hi := at + after + 1
	if hi > len(day) {
		hi = len(day)
	}
	window := day[lo:hi]

	report, err := audit.VerifyChain(ctx, s.storage, org,
		window[0].Timestamp,
		window[len(window)-1].Timestamp.Add(time.Nanosecond),
		audit.VerifyOptions{})
	if err != nil {
		return nil, err
	}

	ec := &EventContext{
		Event:  event,
		Before: day[lo:at],
		After:  day[at+1 : hi],
		Chain:  report,
	}
	s.selfAudit(ctx, principal, org, EventTypeViewed, audit.ActionRead)
	return ec, nil
}
