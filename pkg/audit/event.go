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
// Package audit implements the tamper-evident audit log: per-organization
// hash chains over canonically encoded events, Merkle trees with inclusion
// proofs, and daily timestamped checkpoints.
package audit

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorService ActorType = "service"
	ActorSystem  ActorType = "system"
)

// Category is the broad event classification.
type Category string

const (
	CategoryAuth   Category = "auth"
	CategoryData   Category = "data"
	CategoryConfig Category = "config"
	CategoryAdmin  Category = "admin"
	CategoryEval   Category = "eval"
)

// Severity grades an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Action is the operation performed on the resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// Hash is a SHA-256 digest, hex-encoded on the wire. The zero value marks
// the genesis link of a chain.
type Hash [32]byte

// ZeroHash is the previous_hash of each organization's first event.
var ZeroHash Hash

// IsZero reports whether the hash is the genesis marker.
func (h Hash) IsZero() bool { return h == ZeroHash }

// String returns the lowercase hex encoding.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return h.UnmarshalText([]byte(s))
}

// UnmarshalText decodes a hex string.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

// ParseHash parses a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// Actor describes who performed the audited action.
type Actor struct {
	Type      ActorType `json:"type"`
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Classification categorizes the event.
type Classification struct {
	Category Category `json:"category"`
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
}

// Resource identifies what was acted on.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Event is an immutable, chained audit record. Hash covers the canonical
// encoding of every field except Hash itself, concatenated with
// PreviousHash (see Canonical).
type Event struct {
	EventID        string         `json:"event_id"`
	Seq            int64          `json:"seq"`
	Timestamp      time.Time      `json:"timestamp"`
	OrganizationID string         `json:"organization_id"`
	ProjectID      string         `json:"project_id,omitempty"`
	Actor          Actor          `json:"actor"`
	Classification Classification `json:"classification"`
	Resource       Resource       `json:"resource"`
	Action         Action         `json:"action"`
	PreviousState  map[string]any `json:"previous_state,omitempty"`
	NewState       map[string]any `json:"new_state,omitempty"`
	RequestID      string         `json:"request_id"`
	SessionID      string         `json:"session_id,omitempty"`
	Hash           Hash           `json:"hash"`
	PreviousHash   Hash           `json:"previous_hash"`
}

// Entry is a capture request: everything the caller supplies for a new
// event. Identity, sequencing, and chaining are assigned by the service.
type Entry struct {
	OrganizationID string
	ProjectID      string
	Actor          Actor
	Classification Classification
	Resource       Resource
	Action         Action
	PreviousState  map[string]any
	NewState       map[string]any
	RequestID      string
	SessionID      string

	// Timestamp defaults to capture time when zero.
	Timestamp time.Time
}

// Validate checks the entry fields required for chaining.
func (e *Entry) Validate() error {
	if e.OrganizationID == "" {
		return fmt.Errorf("organization_id required")
	}
	if e.Actor.ID == "" {
		return fmt.Errorf("actor id required")
	}
	switch e.Actor.Type {
	case ActorUser, ActorService, ActorSystem:
	default:
		return fmt.Errorf("invalid actor type %q", e.Actor.Type)
	}
	switch e.Classification.Category {
	case CategoryAuth, CategoryData, CategoryConfig, CategoryAdmin, CategoryEval:
	default:
		return fmt.Errorf("invalid category %q", e.Classification.Category)
	}
	switch e.Action {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport:
	default:
		return fmt.Errorf("invalid action %q", e.Action)
	}
	if e.Classification.Type == "" {
		return fmt.Errorf("event type required")
	}
	if e.Resource.Type == "" || e.Resource.ID == "" {
		return fmt.Errorf("resource type and id required")
	}
	return nil
}

// Day returns the UTC calendar day an event belongs to.
func (e *Event) Day() string {
	return e.Timestamp.UTC().Format("2006-01-02")
}
