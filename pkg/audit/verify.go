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
	"time"
)

// DefaultMaxSkew is the allowed backwards timestamp drift between
// consecutive chained events.
const DefaultMaxSkew = 5 * time.Minute

// MismatchSeverity grades a hash mismatch by how much of the chain it
// invalidates.
type MismatchSeverity string

const (
	MismatchWarning  MismatchSeverity = "warning"
	MismatchCritical MismatchSeverity = "critical"
)

// HashMismatch is an event whose stored hash does not match its recomputed
// canonical hash. Severity scales with chain position: a mismatch early in
// the window invalidates everything after it.
type HashMismatch struct {
	EventID  string           `json:"event_id"`
	Seq      int64            `json:"seq"`
	Severity MismatchSeverity `json:"severity"`
}

// SequenceGap is a hole in the monotonic per-organization sequence.
type SequenceGap struct {
	AfterEventID string `json:"after_event_id"`
	FromSeq      int64  `json:"from_seq"`
	ToSeq        int64  `json:"to_seq"`
	Missing      int64  `json:"missing"`
}

// TimestampAnomaly is a backwards timestamp jump beyond the allowed skew.
type TimestampAnomaly struct {
	EventID string        `json:"event_id"`
	Drift   time.Duration `json:"drift"`
}

// ChainReport is the result of verifying one organization's chain over a
// time range.
type ChainReport struct {
	OrganizationID string    `json:"organization_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`

	Total   int  `json:"total"`
	Valid   bool `json:"valid"`
	Invalid int  `json:"invalid"`

	// HashMismatches are events whose content no longer matches their
	// hash. BrokenLinks are events whose previous_hash does not match
	// their predecessor.
	HashMismatches []HashMismatch `json:"hash_mismatches,omitempty"`
	BrokenLinks    []string       `json:"broken_links,omitempty"`

	SequenceGaps       []SequenceGap      `json:"sequence_gaps,omitempty"`
	TimestampAnomalies []TimestampAnomaly `json:"timestamp_anomalies,omitempty"`
}

// VerifyOptions tunes verification.
type VerifyOptions struct {
	// MaxSkew overrides DefaultMaxSkew when positive.
	MaxSkew time.Duration
}

// VerifyChain recomputes every hash and chain link for org's events in
// [from, to). The window may start mid-chain; in that case the first
// event's link is checked against storage only when its predecessor is the
// genesis position.
func VerifyChain(ctx context.Context, storage Storage, org string, from, to time.Time, opts VerifyOptions) (*ChainReport, error) {
	maxSkew := opts.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}

	events, err := storage.QueryEvents(ctx, org, from, to)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{
		OrganizationID: org,
		From:           from,
		To:             to,
		Total:          len(events),
		Valid:          true,
	}

	// recomputed holds the true hash of each event's content, so a broken
	// link can be attributed to the tampered predecessor rather than to
	// the event carrying the stale previous_hash.
	recomputed := make([]Hash, len(events))
	for i, e := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := EventHash(e, e.PreviousHash)
		if err != nil {
			return nil, err
		}
		recomputed[i] = h
		if h != e.Hash {
			severity := MismatchWarning
			if i < len(events)/2 {
				severity = MismatchCritical
			}
			report.HashMismatches = append(report.HashMismatches, HashMismatch{
				EventID:  e.EventID,
				Seq:      e.Seq,
				Severity: severity,
			})
		}
	}

	for i, e := range events {
		if i == 0 {
			if e.Seq == 1 && !e.PreviousHash.IsZero() {
				report.BrokenLinks = append(report.BrokenLinks, e.EventID)
			}
			continue
		}
		if e.PreviousHash != recomputed[i-1] {
			report.BrokenLinks = append(report.BrokenLinks, e.EventID)
		}

		prev := events[i-1]
		if e.Seq != prev.Seq+1 {
			report.SequenceGaps = append(report.SequenceGaps, SequenceGap{
				AfterEventID: prev.EventID,
				FromSeq:      prev.Seq,
				ToSeq:        e.Seq,
				Missing:      e.Seq - prev.Seq - 1,
			})
		}
		if drift := prev.Timestamp.Sub(e.Timestamp); drift > maxSkew {
			report.TimestampAnomalies = append(report.TimestampAnomalies, TimestampAnomaly{
				EventID: e.EventID,
				Drift:   drift,
			})
		}
	}

	report.Invalid = len(report.HashMismatches) + len(report.BrokenLinks)
	report.Valid = report.Invalid == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.TimestampAnomalies) == 0
	return report, nil
}

// VerifyChain verifies the service's stored chain for org over [from, to).
func (s *Service) VerifyChain(ctx context.Context, org string, from, to time.Time, opts VerifyOptions) (*ChainReport, error) {
	return VerifyChain(ctx, s.storage, org, from, to, opts)
}
