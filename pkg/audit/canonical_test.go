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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *Event {
	return &Event{
		EventID:        "evt-1",
		Seq:            1,
		Timestamp:      time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		OrganizationID: "org-1",
		Actor:          Actor{Type: ActorUser, ID: "u1", Email: "u1@example.com"},
		Classification: Classification{Category: CategoryAuth, Type: "user.login", Severity: SeverityInfo},
		Resource:       Resource{Type: "session", ID: "s1"},
		Action:         ActionCreate,
		RequestID:      "req-1",
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	e := sampleEvent()
	a, err := Canonical(e)
	require.NoError(t, err)
	b, err := Canonical(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalSortedKeysNoWhitespace(t *testing.T) {
	e := sampleEvent()
	data, err := Canonical(e)
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, " ")
	assert.NotContains(t, s, "\n")
	assert.Less(t, strings.Index(s, `"action"`), strings.Index(s, `"actor"`))
	assert.Less(t, strings.Index(s, `"actor"`), strings.Index(s, `"classification"`))

	// Still valid JSON.
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
}

func TestCanonicalOmitsEmptyFields(t *testing.T) {
	e := sampleEvent()
	data, err := Canonical(e)
	require.NoError(t, err)

	// No project, session, state, IP, or user agent were set.
	assert.NotContains(t, string(data), "project_id")
	assert.NotContains(t, string(data), "session_id")
	assert.NotContains(t, string(data), "previous_state")
	assert.NotContains(t, string(data), "user_agent")
}

func TestCanonicalTimestampUTCZ(t *testing.T) {
	e := sampleEvent()
	e.Timestamp = time.Date(2026, 3, 14, 12, 0, 0, 500_000_000, time.FixedZone("PST", -8*3600))

	data, err := Canonical(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"2026-03-14T20:00:00.5Z"`)
}

func TestCanonicalNumbersPlainDecimal(t *testing.T) {
	e := sampleEvent()
	e.NewState = map[string]any{
		"count":   float64(3),
		"ratio":   0.25,
		"big":     1e6,
		"samples": []any{1.5, float64(2)},
	}

	data, err := Canonical(e)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"big":1000000`)
	assert.Contains(t, s, `"count":3`)
	assert.Contains(t, s, `"ratio":0.25`)
	assert.NotContains(t, s, "e+")
	assert.NotContains(t, s, "E+")
}

func TestCanonicalExcludesHash(t *testing.T) {
	e := sampleEvent()
	before, err := Canonical(e)
	require.NoError(t, err)

	e.Hash[0] = 0xab
	e.PreviousHash[0] = 0xcd
	after, err := Canonical(e)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestCanonicalNestedStateSorted(t *testing.T) {
	e := sampleEvent()
	e.NewState = map[string]any{
		"zeta":  "last",
		"alpha": map[string]any{"b": float64(2), "a": float64(1)},
	}

	data, err := Canonical(e)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"new_state":{"alpha":{"a":1,"b":2},"zeta":"last"}`)
}

func TestEventHashChainsOnPrevious(t *testing.T) {
	e := sampleEvent()

	h1, err := EventHash(e, ZeroHash)
	require.NoError(t, err)
	h2, err := EventHash(e, h1)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)

	// Same inputs, same digest.
	again, err := EventHash(e, ZeroHash)
	require.NoError(t, err)
	assert.Equal(t, h1, again)
}

func TestHashJSONRoundTrip(t *testing.T) {
	h, err := EventHash(sampleEvent(), ZeroHash)
	require.NoError(t, err)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Len(t, string(data), 66) // 64 hex chars + quotes

	var back Hash
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, h, back)
}
