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
package judge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	ratioScoreRe  = regexp.MustCompile(`(?i)score\s*[:=]?\s*(\d+(?:\.\d+)?)\s*(?:/|\s+out\s+of\s+)\s*(\d+(?:\.\d+)?)`)
	outOfRe       = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s+out\s+of\s+(\d+(?:\.\d+)?)`)
	bareScoreRe   = regexp.MustCompile(`(?i)(?:score|rating)\s*[:=]?\s*(\d+(?:\.\d+)?)`)
	firstNumberRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// Sentiment words for the last-resort heuristic, mapped to coarse scores.
var sentimentScores = []struct {
	word  string
	score float64
}{
	{"excellent", 1.0},
	{"perfect", 1.0},
	{"good", 0.75},
	{"pass", 0.75},
	{"adequate", 0.5},
	{"partial", 0.5},
	{"poor", 0.25},
	{"bad", 0.25},
	{"fail", 0.0},
	{"incorrect", 0.0},
}

type jsonVerdict struct {
	Score      *float64 `json:"score"`
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
}

// ParseVerdict extracts a normalized score from judge output. It tries, in
// order: the whole reply as JSON, a fenced JSON block, "Score: X/Y" and
// "X out of Y" phrasings, a bare "Score: X", and finally sentiment
// keywords. expectedMax forces the rating scale; zero infers it from the
// value's magnitude.
func ParseVerdict(text string, expectedMax float64) (*Verdict, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty judge reply")
	}

	if v, ok := parseJSON(trimmed, expectedMax); ok {
		v.Raw = text
		return v, nil
	}
	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if v, ok := parseJSON(m[1], expectedMax); ok {
			v.Raw = text
			return v, nil
		}
	}

	for _, re := range []*regexp.Regexp{ratioScoreRe, outOfRe} {
		if m := re.FindStringSubmatch(trimmed); m != nil {
			value, _ := strconv.ParseFloat(m[1], 64)
			denom, _ := strconv.ParseFloat(m[2], 64)
			if denom > 0 {
				return &Verdict{Score: clamp01(value / denom), Raw: text}, nil
			}
		}
	}

	if m := bareScoreRe.FindStringSubmatch(trimmed); m != nil {
		value, _ := strconv.ParseFloat(m[1], 64)
		return &Verdict{Score: normalizeScale(value, expectedMax), Raw: text}, nil
	}

	lower := strings.ToLower(trimmed)
	for _, s := range sentimentScores {
		if strings.Contains(lower, s.word) {
			return &Verdict{Score: s.score, Raw: text}, nil
		}
	}

	// A reply that is just a number still counts.
	if m := firstNumberRe.FindStringSubmatch(trimmed); m != nil && len(trimmed) <= 12 {
		value, _ := strconv.ParseFloat(m[1], 64)
		return &Verdict{Score: normalizeScale(value, expectedMax), Raw: text}, nil
	}

	return nil, fmt.Errorf("no score found in judge reply")
}

func parseJSON(text string, expectedMax float64) (*Verdict, bool) {
	var parsed jsonVerdict
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&parsed); err != nil || parsed.Score == nil {
		return nil, false
	}
	return &Verdict{
		Score:      normalizeScale(*parsed.Score, expectedMax),
		Reasoning:  parsed.Reasoning,
		Confidence: parsed.Confidence,
	}, true
}

// normalizeScale maps a rating onto [0, 1]. With a known scale the rating
// is mapped linearly from [1, max]; otherwise the scale is inferred from
// magnitude: values at most 1 are taken as-is, up to 5 as a 5-point scale,
// up to 10 as a 10-point scale, up to 100 as a percentage.
func normalizeScale(value, expectedMax float64) float64 {
	if expectedMax > 1 {
		return clamp01((value - 1) / (expectedMax - 1))
	}
	switch {
	case value <= 1:
		return clamp01(value)
	case value <= 5:
		return (value - 1) / 4
	case value <= 10:
		return (value - 1) / 9
	case value <= 100:
		return value / 100
	default:
		return 1
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
