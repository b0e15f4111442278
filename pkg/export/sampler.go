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
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Sampler makes head-based sampling decisions keyed on trace ID so every
// span of a trace shares one decision.
type Sampler struct {
	rate float64
	// threshold in the uint64 hash space; hashes below it are kept.
	threshold uint64
}

// NewSampler creates a sampler keeping the given fraction of traces.
// Rates outside [0,1] are clamped.
func NewSampler(rate float64) *Sampler {
	if rate < 0 || math.IsNaN(rate) {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	var threshold uint64
	if rate >= 1 {
		threshold = math.MaxUint64
	} else {
		threshold = uint64(rate * float64(math.MaxUint64))
	}
	return &Sampler{rate: rate, threshold: threshold}
}

// Rate returns the configured sample rate.
func (s *Sampler) Rate() float64 { return s.rate }

// Keep reports whether spans of the given trace should be exported.
func (s *Sampler) Keep(traceID string) bool {
	if s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	sum := sha256.Sum256([]byte(traceID))
	h := binary.BigEndian.Uint64(sum[:8])
	return h < s.threshold
}
