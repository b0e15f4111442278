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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactorCredentials(t *testing.T) {
	s := span("t1", "s1")
	s.Attributes = map[string]any{
		"api_key":       "sk-live-123",
		"user_password": "hunter2",
		"model":         "opus",
	}

	NewRedactor(PrivacyConfig{RedactCredentials: true}).Apply(s)

	assert.NotContains(t, s.Attributes, "api_key")
	assert.NotContains(t, s.Attributes, "user_password")
	assert.Equal(t, "opus", s.Attributes["model"])
}

func TestRedactorPII(t *testing.T) {
	s := span("t1", "s1")
	s.Attributes = map[string]any{
		"note": "reach me at jane@example.com or 555-867-5309",
	}
	s.Input = "ssn 123-45-6789"
	s.Output = "card 4111 1111 1111 1111"

	NewRedactor(PrivacyConfig{RedactPII: true}).Apply(s)

	note := s.Attributes["note"].(string)
	assert.Contains(t, note, "[EMAIL_REDACTED]")
	assert.Contains(t, note, "[PHONE_REDACTED]")
	assert.Contains(t, s.Input, "[SSN_REDACTED]")
	assert.Contains(t, s.Output, "[CARD_REDACTED]")
}

func TestRedactorAllowlistBypasses(t *testing.T) {
	s := span("t1", "s1")
	s.Attributes = map[string]any{
		"api_key": "kept-on-purpose",
		"contact": "ops@example.com",
	}

	NewRedactor(PrivacyConfig{
		RedactCredentials: true,
		RedactPII:         true,
		AllowedAttributes: []string{"api_key", "contact"},
	}).Apply(s)

	assert.Equal(t, "kept-on-purpose", s.Attributes["api_key"])
	assert.Equal(t, "ops@example.com", s.Attributes["contact"])
}

func TestRedactorDisabledIsNoop(t *testing.T) {
	s := span("t1", "s1")
	s.Attributes = map[string]any{"password": "hunter2"}
	s.Input = "jane@example.com"

	NewRedactor(PrivacyConfig{}).Apply(s)

	assert.Equal(t, "hunter2", s.Attributes["password"])
	assert.Equal(t, "jane@example.com", s.Input)
}

func TestSamplerDeterministicPerTrace(t *testing.T) {
	sampler := NewSampler(0.5)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("trace-%d", i)
		first := sampler.Keep(id)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, sampler.Keep(id))
		}
	}
}

func TestSamplerExtremes(t *testing.T) {
	assert.True(t, NewSampler(1).Keep("anything"))
	assert.True(t, NewSampler(2).Keep("clamped"))
	assert.False(t, NewSampler(0).Keep("anything"))
	assert.False(t, NewSampler(-1).Keep("clamped"))
}

func TestSamplerApproximatesRate(t *testing.T) {
	sampler := NewSampler(0.3)
	kept := 0
	const n = 5000
	for i := 0; i < n; i++ {
		if sampler.Keep(fmt.Sprintf("trace-%d", i)) {
			kept++
		}
	}
	assert.InDelta(t, 0.3, float64(kept)/n, 0.05)
}
