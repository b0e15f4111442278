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
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Canonical encoding rules, shared by every implementation that signs or
// verifies events:
//
//   - object keys sorted lexicographically, no whitespace
//   - empty/null optional fields omitted entirely
//   - timestamps as RFC 3339 UTC with a literal Z suffix
//   - numbers as plain decimals, never scientific notation
//   - the hash field excluded from the canonical bytes
//
// Any divergence here breaks cross-runtime verification, so the encoder is
// written by hand rather than relying on encoding/json field order.

// Canonical returns the canonical bytes of an event, excluding Hash.
// PreviousHash is part of the chain input, not the canonical bytes, so the
// digest can be recomputed as SHA-256(Canonical(e) || previous_hash).
func Canonical(e *Event) ([]byte, error) {
	m := map[string]any{
		"event_id":        e.EventID,
		"seq":             e.Seq,
		"timestamp":       e.Timestamp,
		"organization_id": e.OrganizationID,
		"actor": map[string]any{
			"type":       string(e.Actor.Type),
			"id":         e.Actor.ID,
			"email":      e.Actor.Email,
			"ip":         e.Actor.IP,
			"user_agent": e.Actor.UserAgent,
		},
		"classification": map[string]any{
			"category": string(e.Classification.Category),
			"type":     e.Classification.Type,
			"severity": string(e.Classification.Severity),
		},
		"resource": map[string]any{
			"type": e.Resource.Type,
			"id":   e.Resource.ID,
			"name": e.Resource.Name,
		},
		"action":     string(e.Action),
		"request_id": e.RequestID,
	}
	if e.ProjectID != "" {
		m["project_id"] = e.ProjectID
	}
	if e.SessionID != "" {
		m["session_id"] = e.SessionID
	}
	if len(e.PreviousState) > 0 {
		m["previous_state"] = e.PreviousState
	}
	if len(e.NewState) > 0 {
		m["new_state"] = e.NewState
	}

	var buf bytes.Buffer
	if err := appendCanonical(&buf, m); err != nil {
		return nil, fmt.Errorf("canonical encode event %s: %w", e.EventID, err)
	}
	return buf.Bytes(), nil
}

// EventHash computes SHA-256(Canonical(e) || previousHash).
func EventHash(e *Event, previousHash Hash) (Hash, error) {
	canonical, err := Canonical(e)
	if err != nil {
		return Hash{}, err
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write(previousHash[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// appendCanonical writes the canonical JSON of v.
func appendCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case time.Time:
		enc, err := json.Marshal(val.UTC().Format("2006-01-02T15:04:05.999999999Z"))
		if err != nil {
			return err
		}
		buf.Write(enc)
	case json.Number:
		return appendCanonicalNumber(buf, val.String())
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		return appendCanonicalFloat(buf, val)
	case map[string]any:
		return appendCanonicalObject(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		// Round-trip unknown values through encoding/json into canonical
		// shapes (maps, slices, json.Number).
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return err
		}
		return appendCanonical(buf, generic)
	}
	return nil
}

func appendCanonicalObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if isEmptyValue(v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		enc, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(enc)
		buf.WriteByte(':')
		if err := appendCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// appendCanonicalFloat renders a float without scientific notation.
func appendCanonicalFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v not representable", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func appendCanonicalNumber(buf *bytes.Buffer, s string) error {
	// json.Number may carry scientific notation from the wire; normalize
	// through float parsing when it does.
	if !containsExponent(s) {
		buf.WriteString(s)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	return appendCanonicalFloat(buf, f)
}

func containsExponent(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 'e' || s[i] == 'E' {
			return true
		}
	}
	return false
}

// isEmptyValue reports whether a value is omitted from canonical output.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
