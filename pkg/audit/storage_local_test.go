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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

func localEvent(org, id string, seq int64, ts time.Time) *Event {
	e := &Event{
		EventID:        id,
		Seq:            seq,
		Timestamp:      ts,
		OrganizationID: org,
		Actor:          Actor{Type: ActorUser, ID: "u1"},
		Classification: Classification{Category: CategoryAuth, Type: "user.login", Severity: SeverityInfo},
		Resource:       Resource{Type: "session", ID: "s1"},
		Action:         ActionCreate,
		RequestID:      "req",
	}
	h, _ := EventHash(e, ZeroHash)
	e.Hash = h
	return e
}

func TestLocalStorageLayoutAndSeal(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	require.NoError(t, err)

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := localEvent("org-1", "evt-1", 1, ts)
	require.NoError(t, s.WriteEvent(context.Background(), e))

	path := filepath.Join(root, "org-1", "2026", "05", "01", "evt-1.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
}

func TestLocalStorageWriteOnce(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := localEvent("org-1", "evt-1", 1, ts)
	require.NoError(t, s.WriteEvent(context.Background(), e))

	err = s.WriteEvent(context.Background(), e)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindStorage))
}

func TestLocalStorageQueryAndGet(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := localEvent("org-1", "evt-"+string(rune('a'+i)), int64(i+1), base.Add(time.Duration(i)*12*time.Hour))
		require.NoError(t, s.WriteEvent(ctx, e))
	}

	events, err := s.QueryEvents(ctx, "org-1", base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "evt-a", events[0].EventID)
	assert.Equal(t, "evt-c", events[2].EventID)

	got, err := s.GetEvent(ctx, "org-1", "evt-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Seq)

	// A cold instance finds the event by walking the tree.
	cold, err := NewLocalStorage(s.Root())
	require.NoError(t, err)
	got, err = cold.GetEvent(ctx, "org-1", "evt-c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Seq)

	_, err = cold.GetEvent(ctx, "org-1", "missing")
	assert.True(t, aterrors.IsKind(err, aterrors.KindNotFound))
}

func TestLocalStorageLatestEvent(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.LatestEvent(ctx, "org-1")
	assert.True(t, aterrors.IsKind(err, aterrors.KindNotFound))

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.WriteEvent(ctx, localEvent("org-1", "evt-1", 1, base)))
	require.NoError(t, s.WriteEvent(ctx, localEvent("org-1", "evt-2", 2, base.AddDate(0, 0, 2))))

	tail, err := s.LatestEvent(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-2", tail.EventID)
}

func TestLocalStorageCheckpointLifecycle(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	cp := &Checkpoint{
		OrganizationID: "org-1",
		Date:           "2026-05-01",
		EventCount:     3,
		Status:         CheckpointPendingTimestamp,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.WriteCheckpoint(ctx, cp))

	pending, err := s.ListPendingCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// The retrier replaces the pending checkpoint with the sealed one.
	cp.Status = CheckpointSealed
	cp.TimestampToken = &TimestampToken{TSA: "fake", Token: []byte{1}, TimestampedAt: time.Now().UTC()}
	require.NoError(t, s.WriteCheckpoint(ctx, cp))

	got, err := s.GetCheckpoint(ctx, "org-1", "2026-05-01")
	require.NoError(t, err)
	assert.Equal(t, CheckpointSealed, got.Status)

	// Sealed checkpoints are write-once.
	require.Error(t, s.WriteCheckpoint(ctx, cp))

	pending, err = s.ListPendingCheckpoints(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
