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
	"context"
	"crypto/sha256"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// CheckpointStatus tracks whether a checkpoint carries its timestamp token.
type CheckpointStatus string

const (
	CheckpointSealed           CheckpointStatus = "sealed"
	CheckpointPendingTimestamp CheckpointStatus = "pending_timestamp"
)

// TimestampToken is an opaque RFC 3161 token plus the authority that
// issued it.
type TimestampToken struct {
	TSA           string    `json:"tsa"`
	Token         []byte    `json:"token"`
	TimestampedAt time.Time `json:"timestamped_at"`
}

// Checkpoint summarizes one organization-day of audit events. Checkpoints
// chain to each other through PreviousCheckpointHash, forming a per-org
// linear chain above the event chain.
type Checkpoint struct {
	OrganizationID         string           `json:"organization_id"`
	Date                   string           `json:"date"`
	MerkleRoot             Hash             `json:"merkle_root"`
	EventCount             int              `json:"event_count"`
	FirstEventHash         Hash             `json:"first_event_hash"`
	LastEventHash          Hash             `json:"last_event_hash"`
	PreviousCheckpointHash Hash             `json:"previous_checkpoint_hash"`
	TimestampToken         *TimestampToken  `json:"timestamp_token,omitempty"`
	CheckpointHash         Hash             `json:"checkpoint_hash"`
	Status                 CheckpointStatus `json:"status"`
	CreatedAt              time.Time        `json:"created_at"`
}

// CheckpointHashOf computes the checkpoint's own hash over its canonical
// bytes. The timestamp token and the hash itself are excluded: the token
// arrives late for pending checkpoints, and the hash must not change when
// the retrier attaches it, or the next day's chain link would break.
func CheckpointHashOf(cp *Checkpoint) (Hash, error) {
	m := map[string]any{
		"organization_id":          cp.OrganizationID,
		"date":                     cp.Date,
		"merkle_root":              cp.MerkleRoot.String(),
		"event_count":              cp.EventCount,
		"first_event_hash":         cp.FirstEventHash.String(),
		"last_event_hash":          cp.LastEventHash.String(),
		"previous_checkpoint_hash": cp.PreviousCheckpointHash.String(),
		"created_at":               cp.CreatedAt,
	}
	var buf bytes.Buffer
	if err := appendCanonical(&buf, m); err != nil {
		return Hash{}, aterrors.Wrap(aterrors.KindIntegrity, err, "canonical encode checkpoint %s/%s", cp.OrganizationID, cp.Date)
	}
	return sha256.Sum256(buf.Bytes()), nil
}

// CheckpointDigest is the message a TSA timestamps:
// SHA-256(merkle_root || org || date).
func CheckpointDigest(root Hash, org, date string) Hash {
	h := sha256.New()
	h.Write(root[:])
	h.Write([]byte(org))
	h.Write([]byte(date))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// TSAClient obtains RFC 3161 timestamp tokens over a digest.
type TSAClient interface {
	Timestamp(ctx context.Context, digest Hash) (*TimestampToken, error)
}

// Checkpointer builds, seals, and retries daily checkpoints.
type Checkpointer struct {
	storage Storage
	tsa     TSAClient
	now     func() time.Time
}

// NewCheckpointer creates a checkpointer. tsa may be nil, in which case
// every checkpoint is persisted as pending_timestamp.
func NewCheckpointer(storage Storage, tsa TSAClient) *Checkpointer {
	return &Checkpointer{storage: storage, tsa: tsa, now: time.Now}
}

// Create builds the checkpoint for one organization-day: fetch the day's
// events, build the Merkle root, chain to the previous day's checkpoint,
// request a TSA token, and persist. TSA failure downgrades the checkpoint
// to pending_timestamp instead of failing the day.
func (c *Checkpointer) Create(ctx context.Context, org, date string) (*Checkpoint, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindValidation, err, "invalid checkpoint date %q", date)
	}
	if existing, err := c.storage.GetCheckpoint(ctx, org, date); err == nil && existing.Status == CheckpointSealed {
		return nil, duplicateWriteErr("checkpoint", org+"/"+date)
	}

	events, err := c.storage.QueryEvents(ctx, org, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, aterrors.New(aterrors.KindNotFound, "no events for %s on %s", org, date)
	}

	tree, err := NewMerkleTree(LeavesForEvents(events))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "build merkle tree for %s/%s", org, date)
	}

	cp := &Checkpoint{
		OrganizationID: org,
		Date:           date,
		MerkleRoot:     tree.Root(),
		EventCount:     len(events),
		FirstEventHash: events[0].Hash,
		LastEventHash:  events[len(events)-1].Hash,
		Status:         CheckpointSealed,
		CreatedAt:      c.now().UTC(),
	}
	if prev, err := c.storage.GetCheckpoint(ctx, org, day.AddDate(0, 0, -1).Format("2006-01-02")); err == nil {
		cp.PreviousCheckpointHash = prev.CheckpointHash
	}

	cp.CheckpointHash, err = CheckpointHashOf(cp)
	if err != nil {
		return nil, err
	}

	if err := c.timestamp(ctx, cp); err != nil {
		log.Warn("timestamp authority unavailable, checkpoint pending",
			zap.String("org", org), zap.String("date", date), zap.Error(err))
	}

	if err := c.storage.WriteCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// RetryPending upgrades checkpoints persisted without a token. Each success
// rewrites the checkpoint as sealed; failures are left pending for the next
// sweep.
func (c *Checkpointer) RetryPending(ctx context.Context) (upgraded int, err error) {
	pending, err := c.storage.ListPendingCheckpoints(ctx)
	if err != nil {
		return 0, err
	}
	for _, cp := range pending {
		if err := ctx.Err(); err != nil {
			return upgraded, err
		}
		if err := c.timestamp(ctx, cp); err != nil {
			log.Debug("pending checkpoint still without timestamp",
				zap.String("org", cp.OrganizationID), zap.String("date", cp.Date), zap.Error(err))
			continue
		}
		if err := c.storage.WriteCheckpoint(ctx, cp); err != nil {
			return upgraded, err
		}
		upgraded++
	}
	return upgraded, nil
}

// timestamp attaches a TSA token and seals the checkpoint, or marks it
// pending and returns the cause.
func (c *Checkpointer) timestamp(ctx context.Context, cp *Checkpoint) error {
	if c.tsa == nil {
		cp.Status = CheckpointPendingTimestamp
		cp.TimestampToken = nil
		return aterrors.New(aterrors.KindIntegrity, "no timestamp authority configured")
	}
	token, err := c.tsa.Timestamp(ctx, CheckpointDigest(cp.MerkleRoot, cp.OrganizationID, cp.Date))
	if err != nil {
		cp.Status = CheckpointPendingTimestamp
		cp.TimestampToken = nil
		return err
	}
	cp.TimestampToken = token
	cp.Status = CheckpointSealed
	return nil
}

// PendingPolicy controls how verification treats checkpoints that stayed
// pending_timestamp past a grace period. The upstream behavior is not
// nailed down, so it is a deployment knob rather than a constant.
type PendingPolicy struct {
	// Grace is how long a checkpoint may remain pending before it is
	// considered stale. Zero means pending checkpoints never go stale.
	Grace time.Duration
	// FailStale makes stale pending checkpoints a verification failure
	// instead of a warning.
	FailStale bool
}

// Stale reports whether a pending checkpoint exceeded the grace period.
func (p PendingPolicy) Stale(cp *Checkpoint, now time.Time) bool {
	if cp.Status != CheckpointPendingTimestamp || p.Grace <= 0 {
		return false
	}
	return now.Sub(cp.CreatedAt) > p.Grace
}
