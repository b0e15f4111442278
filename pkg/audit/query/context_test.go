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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit"
)

// seedChain captures n properly chained events through the chain service,
// one second apart starting at qt0.
func seedChain(t *testing.T, org string, n int) (audit.Storage, []*audit.Event) {
	t.Helper()
	storage := audit.NewMemoryStorage()
	svc := audit.NewService(storage, audit.ServiceConfig{
		BatchSize:     1,
		BatchInterval: time.Millisecond,
	})
	events := make([]*audit.Event, 0, n)
	for i := 0; i < n; i++ {
		e, err := svc.Capture(context.Background(), &audit.Entry{
			OrganizationID: org,
			Actor:          audit.Actor{Type: audit.ActorUser, ID: "u1"},
			Classification: audit.Classification{
				Category: audit.CategoryData,
				Type:     "dataset.read",
				Severity: audit.SeverityInfo,
			},
			Resource:  audit.Resource{Type: "dataset", ID: fmt.Sprintf("d-%d", i)},
			Action:    audit.ActionRead,
			RequestID: fmt.Sprintf("req-%d", i),
			Timestamp: qt0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		events = append(events, e)
	}
	require.NoError(t, svc.Shutdown(context.Background()))
	return storage, events
}

func TestGetWithContextWindow(t *testing.T) {
	storage, events := seedChain(t, "org-1", 6)
	svc := NewService(storage, Config{})

	ec, err := svc.GetWithContext(context.Background(), reader(), "org-1", events[3].EventID, 2, 1)
	require.NoError(t, err)

	assert.Equal(t, events[3].EventID, ec.Event.EventID)
	assert.Equal(t, []string{events[1].EventID, events[2].EventID}, eventIDs(ec.Before))
	assert.Equal(t, []string{events[4].EventID}, eventIDs(ec.After))

	require.NotNil(t, ec.Chain)
	assert.True(t, ec.Chain.Valid)
	assert.Equal(t, 4, ec.Chain.Total)
	assert.Empty(t, ec.Chain.HashMismatches)
	assert.Empty(t, ec.Chain.BrokenLinks)
}

func TestGetWithContextClampsWindow(t *testing.T) {
	storage, events := seedChain(t, "org-1", 3)
	svc := NewService(storage, Config{})

	ec, err := svc.GetWithContext(context.Background(), reader(), "org-1", events[0].EventID, 5, 10)
	require.NoError(t, err)

	assert.Empty(t, ec.Before)
	assert.Equal(t, []string{events[1].EventID, events[2].EventID}, eventIDs(ec.After))
	assert.Equal(t, 3, ec.Chain.Total)

	// Negative window sizes collapse to the event alone.
	ec, err = svc.GetWithContext(context.Background(), reader(), "org-1", events[1].EventID, -1, -1)
	require.NoError(t, err)
	assert.Empty(t, ec.Before)
	assert.Empty(t, ec.After)
	assert.Equal(t, 1, ec.Chain.Total)
}

func TestGetWithContextUnknownEvent(t *testing.T) {
	storage, _ := seedChain(t, "org-1", 2)
	svc := NewService(storage, Config{})

	_, err := svc.GetWithContext(context.Background(), reader(), "org-1", "no-such-event", 1, 1)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindNotFound))
}

func TestGetWithContextValidatesArguments(t *testing.T) {
	svc := NewService(audit.NewMemoryStorage(), Config{})

	_, err := svc.GetWithContext(context.Background(), reader(), "", "ev-1", 1, 1)
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))

	_, err = svc.GetWithContext(context.Background(), reader(), "org-1", "", 1, 1)
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))
}

func TestGetWithContextDetectsTamperedWindow(t *testing.T) {
	storage := audit.NewMemoryStorage()

	// Build the chain by hand so one event can be corrupted after its
	// hash was fixed.
	var prev audit.Hash
	events := make([]*audit.Event, 4)
	for i := range events {
		e := &audit.Event{
			EventID:        fmt.Sprintf("ev-%d", i),
			Seq:            int64(i + 1),
			Timestamp:      qt0.Add(time.Duration(i) * time.Second),
			OrganizationID: "org-1",
			Actor:          audit.Actor{Type: audit.ActorUser, ID: "u1"},
			Classification: audit.Classification{
				Category: audit.CategoryData,
				Type:     "dataset.read",
				Severity: audit.SeverityInfo,
			},
			Resource:  audit.Resource{Type: "dataset", ID: fmt.Sprintf("d-%d", i)},
			Action:    audit.ActionRead,
			RequestID: fmt.Sprintf("req-%d", i),
		}
		hash, err := audit.EventHash(e, prev)
		require.NoError(t, err)
		e.PreviousHash = prev
		e.Hash = hash
		prev = hash
		if i == 2 {
			e.Action = audit.ActionDelete
		}
		require.NoError(t, storage.WriteEvent(context.Background(), e))
		events[i] = e
	}

	svc := NewService(storage, Config{})
	ec, err := svc.GetWithContext(context.Background(), reader(), "org-1", events[2].EventID, 1, 1)
	require.NoError(t, err)

	assert.False(t, ec.Chain.Valid)
	require.NotEmpty(t, ec.Chain.HashMismatches)
	assert.Equal(t, events[2].EventID, ec.Chain.HashMismatches[0].EventID)
}
