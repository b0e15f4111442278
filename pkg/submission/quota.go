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
package submission

import (
	"sync"
	"time"
)

// Quota limits for one submitter.
const (
	QuotaPerDay  = 5
	QuotaPerWeek = 20
	QuotaMinGap  = time.Hour
)

// QuotaDecision explains why a submission was (or was not) admitted.
type QuotaDecision struct {
	Allowed bool
	Reason  string
	// RetryAfter is how long until the next submission could be admitted.
	RetryAfter time.Duration
}

// QuotaStore enforces per-submitter rolling submission limits: at most 5
// per 24h, 20 per 7d, and a 1h gap between consecutive accepted
// submissions.
type QuotaStore struct {
	mu  sync.Mutex
	byS map[string]*submitterQuota
	now func() time.Time
}

type submitterQuota struct {
	mu       sync.Mutex
	accepted []time.Time
}

// NewQuotaStore creates an empty quota store.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{byS: make(map[string]*submitterQuota), now: time.Now}
}

func (q *QuotaStore) submitter(key string) *submitterQuota {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.byS[key]
	if !ok {
		s = &submitterQuota{}
		q.byS[key] = s
	}
	return s
}

// Check reports whether the submitter may submit now, without recording
// anything.
func (q *QuotaStore) Check(submitter string) QuotaDecision {
	return q.decide(submitter, false)
}

// Admit checks the quota and, when allowed, records the submission.
func (q *QuotaStore) Admit(submitter string) QuotaDecision {
	return q.decide(submitter, true)
}

func (q *QuotaStore) decide(submitter string, record bool) QuotaDecision {
	now := q.now()
	s := q.submitter(submitter)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop entries older than the widest window.
	cutoff := now.Add(-7 * 24 * time.Hour)
	kept := s.accepted[:0]
	for _, t := range s.accepted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.accepted = kept

	var day int
	dayCutoff := now.Add(-24 * time.Hour)
	var oldestInDay, oldestInWeek time.Time
	for _, t := range s.accepted {
		if oldestInWeek.IsZero() || t.Before(oldestInWeek) {
			oldestInWeek = t
		}
		if t.After(dayCutoff) {
			day++
			if oldestInDay.IsZero() || t.Before(oldestInDay) {
				oldestInDay = t
			}
		}
	}

	if len(s.accepted) > 0 {
		last := s.accepted[len(s.accepted)-1]
		if gap := now.Sub(last); gap < QuotaMinGap {
			return QuotaDecision{
				Reason:     "minimum gap between submissions is 1h",
				RetryAfter: QuotaMinGap - gap,
			}
		}
	}
	if day >= QuotaPerDay {
		return QuotaDecision{
			Reason:     "daily submission quota reached",
			RetryAfter: oldestInDay.Add(24 * time.Hour).Sub(now),
		}
	}
	if len(s.accepted) >= QuotaPerWeek {
		return QuotaDecision{
			Reason:     "weekly submission quota reached",
			RetryAfter: oldestInWeek.Add(7 * 24 * time.Hour).Sub(now),
		}
	}

	if record {
		s.accepted = append(s.accepted, now)
	}
	return QuotaDecision{Allowed: true}
}
