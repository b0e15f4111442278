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
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Storage persists chained events and checkpoints. Event writes are
// write-once: a second write for the same event ID must fail. Checkpoints
// may be rewritten only while marked pending_timestamp, so the timestamp
// retrier can upgrade them.
type Storage interface {
	Name() string

	WriteEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, org, eventID string) (*Event, error)
	// QueryEvents returns events with from <= timestamp < to, sorted by
	// (timestamp, event_id).
	QueryEvents(ctx context.Context, org string, from, to time.Time) ([]*Event, error)
	// LatestEvent returns the chain tail for an organization, or a
	// not_found error for an empty chain. Used to recover last_hash on
	// startup.
	LatestEvent(ctx context.Context, org string) (*Event, error)

	WriteCheckpoint(ctx context.Context, cp *Checkpoint) error
	// GetCheckpoint fetches the checkpoint for a UTC day ("2006-01-02").
	GetCheckpoint(ctx context.Context, org, date string) (*Checkpoint, error)
	// ListPendingCheckpoints returns checkpoints still awaiting a
	// timestamp token, oldest first.
	ListPendingCheckpoints(ctx context.Context) ([]*Checkpoint, error)
}

func notFoundErr(what, id string) error {
	return aterrors.New(aterrors.KindNotFound, "%s %s not found", what, id)
}

func duplicateWriteErr(what, id string) error {
	return aterrors.New(aterrors.KindStorage, "%s %s already written", what, id)
}

// MemoryStorage is an in-process backend for tests and local development.
type MemoryStorage struct {
	mu          sync.RWMutex
	events      map[string]map[string]*Event // org -> event_id -> event
	checkpoints map[string]map[string]*Checkpoint
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events:      make(map[string]map[string]*Event),
		checkpoints: make(map[string]map[string]*Checkpoint),
	}
}

// Name implements Storage.
func (s *MemoryStorage) Name() string { return "memory" }

// WriteEvent implements Storage.
func (s *MemoryStorage) WriteEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.events[e.OrganizationID]
	if byID == nil {
		byID = make(map[string]*Event)
		s.events[e.OrganizationID] = byID
	}
	if _, exists := byID[e.EventID]; exists {
		return duplicateWriteErr("event", e.EventID)
	}
	clone := *e
	byID[e.EventID] = &clone
	return nil
}

// GetEvent implements Storage.
func (s *MemoryStorage) GetEvent(_ context.Context, org, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[org][eventID]
	if !ok {
		return nil, notFoundErr("event", eventID)
	}
	clone := *e
	return &clone, nil
}

// QueryEvents implements Storage.
func (s *MemoryStorage) QueryEvents(_ context.Context, org string, from, to time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[org] {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		clone := *e
		out = append(out, &clone)
	}
	sortEvents(out)
	return out, nil
}

// LatestEvent implements Storage.
func (s *MemoryStorage) LatestEvent(_ context.Context, org string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Event
	for _, e := range s.events[org] {
		if latest == nil || e.Seq > latest.Seq {
			latest = e
		}
	}
	if latest == nil {
		return nil, notFoundErr("chain tail for org", org)
	}
	clone := *latest
	return &clone, nil
}

// WriteCheckpoint implements Storage.
func (s *MemoryStorage) WriteCheckpoint(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDate := s.checkpoints[cp.OrganizationID]
	if byDate == nil {
		byDate = make(map[string]*Checkpoint)
		s.checkpoints[cp.OrganizationID] = byDate
	}
	if existing, ok := byDate[cp.Date]; ok && existing.Status != CheckpointPendingTimestamp {
		return duplicateWriteErr("checkpoint", cp.OrganizationID+"/"+cp.Date)
	}
	clone := *cp
	byDate[cp.Date] = &clone
	return nil
}

// GetCheckpoint implements Storage.
func (s *MemoryStorage) GetCheckpoint(_ context.Context, org, date string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[org][date]
	if !ok {
		return nil, notFoundErr("checkpoint", org+"/"+date)
	}
	clone := *cp
	return &clone, nil
}

// ListPendingCheckpoints implements Storage.
func (s *MemoryStorage) ListPendingCheckpoints(_ context.Context) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Checkpoint
	for _, byDate := range s.checkpoints {
		for _, cp := range byDate {
			if cp.Status == CheckpointPendingTimestamp {
				clone := *cp
				out = append(out, &clone)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func sortEvents(events []*Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
}
