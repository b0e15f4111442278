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
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/agenttrace/agenttrace/pkg/audit"
)

// Aggregation bounds.
const (
	TopN = 10
	// DefaultCriticalBurstThreshold is the critical-severity event count
	// above which the window is flagged.
	DefaultCriticalBurstThreshold = 25
)

// Anomaly kinds.
const (
	AnomalyDaySpike      = "day_spike"
	AnomalyActorShare    = "actor_share"
	AnomalyCriticalBurst = "critical_burst"
)

// Count pairs a key with its event count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Anomaly is a statistical irregularity found while summarizing.
type Anomaly struct {
	Kind string `json:"kind"`
	// Subject is the day (day_spike), actor (actor_share), or
	// organization (critical_burst) the anomaly concerns.
	Subject   string  `json:"subject"`
	Count     int     `json:"count"`
	Threshold float64 `json:"threshold"`
}

// Summary aggregates an organization's events over a window.
type Summary struct {
	OrganizationID string         `json:"organization_id"`
	From           time.Time      `json:"from"`
	To             time.Time      `json:"to"`
	Total          int            `json:"total"`
	ByCategory     map[string]int `json:"by_category"`
	ByDay          map[string]int `json:"by_day"`
	TopActors      []Count        `json:"top_actors"`
	TopResources   []Count        `json:"top_resources"`
	Anomalies      []Anomaly      `json:"anomalies,omitempty"`
}

// SummaryOptions tunes anomaly detection.
type SummaryOptions struct {
	// CriticalBurstThreshold overrides the default when positive.
	CriticalBurstThreshold int
}

// Summarize aggregates the organization's events over [from, to) and
// flags day-level spikes (count > mean+3σ), actors whose share of the
// window exceeds mean+2σ, and bursts of critical-severity events.
func (s *Service) Summarize(ctx context.Context, principal *Principal, org string, from, to time.Time, opts SummaryOptions) (*Summary, error) {
	if err := s.admit(principal, ClassQuery); err != nil {
		return nil, err
	}
	if err := validateRange(org, from, to); err != nil {
		return nil, err
	}

	events, err := s.storage.QueryEvents(ctx, org, from, to)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		OrganizationID: org,
		From:           from,
		To:             to,
		Total:          len(events),
		ByCategory:     make(map[string]int),
		ByDay:          make(map[string]int),
	}

	actors := make(map[string]int)
	resources := make(map[string]int)
	critical := 0
	for _, e := range events {
		summary.ByCategory[string(e.Classification.Category)]++
		summary.ByDay[e.Day()]++
		actors[e.Actor.ID]++
		resources[e.Resource.Type+"/"+e.Resource.ID]++
		if e.Classification.Severity == audit.SeverityCritical {
			critical++
		}
	}
	summary.TopActors = topCounts(actors, TopN)
	summary.TopResources = topCounts(resources, TopN)

	summary.Anomalies = append(summary.Anomalies, daySpikes(summary.ByDay)...)
	summary.Anomalies = append(summary.Anomalies, actorShareAnomalies(actors, summary.Total)...)

	burstAt := opts.CriticalBurstThreshold
	if burstAt <= 0 {
		burstAt = DefaultCriticalBurstThreshold
	}
	if critical > burstAt {
		summary.Anomalies = append(summary.Anomalies, Anomaly{
			Kind:      AnomalyCriticalBurst,
			Subject:   org,
			Count:     critical,
			Threshold: float64(burstAt),
		})
	}

	s.selfAudit(ctx, principal, org, EventTypeViewed, audit.ActionRead)
	return summary, nil
}

func topCounts(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Key < out[j].Key
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// daySpikes flags days whose count exceeds mean+3σ over the window. With
// fewer than three days there is no meaningful baseline.
func daySpikes(byDay map[string]int) []Anomaly {
	if len(byDay) < 3 {
		return nil
	}
	days := make([]string, 0, len(byDay))
	samples := make([]float64, 0, len(byDay))
	for day, c := range byDay {
		days = append(days, day)
		samples = append(samples, float64(c))
	}
	mean := stat.Mean(samples, nil)
	sigma := stat.StdDev(samples, nil)
	if sigma == 0 {
		return nil
	}
	threshold := mean + 3*sigma

	sort.Strings(days)
	var out []Anomaly
	for _, day := range days {
		if float64(byDay[day]) > threshold {
			out = append(out, Anomaly{
				Kind:      AnomalyDaySpike,
				Subject:   day,
				Count:     byDay[day],
				Threshold: threshold,
			})
		}
	}
	return out
}

// actorShareAnomalies flags actors whose share of the window's events
// exceeds mean+2σ over all actors' shares.
func actorShareAnomalies(actors map[string]int, total int) []Anomaly {
	if len(actors) < 3 || total == 0 {
		return nil
	}
	ids := make([]string, 0, len(actors))
	shares := make([]float64, 0, len(actors))
	for id, c := range actors {
		ids = append(ids, id)
		shares = append(shares, float64(c)/float64(total))
	}
	mean := stat.Mean(shares, nil)
	sigma := stat.StdDev(shares, nil)
	if sigma == 0 {
		return nil
	}
	threshold := mean + 2*sigma

	sort.Strings(ids)
	var out []Anomaly
	for _, id := range ids {
		if float64(actors[id])/float64(total) > threshold {
			out = append(out, Anomaly{
				Kind:      AnomalyActorShare,
				Subject:   id,
				Count:     actors[id],
				Threshold: threshold,
			})
		}
	}
	return out
}
