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
package submission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

func queuedSubmission(id string, at time.Time) *Submission {
	return &Submission{SubmissionID: id, SubmittedAt: at}
}

func TestQueueOrdersBySubmissionTime(t *testing.T) {
	q := NewQueue()
	base := time.Unix(1_700_000_000, 0)

	require.NoError(t, q.Enqueue(queuedSubmission("later", base.Add(2*time.Hour))))
	require.NoError(t, q.Enqueue(queuedSubmission("first", base)))
	require.NoError(t, q.Enqueue(queuedSubmission("middle", base.Add(time.Hour))))
	require.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"first", "middle", "later"} {
		sub, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, sub.SubmissionID)
	}
}

func TestQueueBreaksTimestampTiesByID(t *testing.T) {
	q := NewQueue()
	at := time.Unix(1_700_000_000, 0)

	require.NoError(t, q.Enqueue(queuedSubmission("sub-b", at)))
	require.NoError(t, q.Enqueue(queuedSubmission("sub-a", at)))

	sub, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-a", sub.SubmissionID)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()

	got := make(chan *Submission, 1)
	go func() {
		sub, err := q.Dequeue(context.Background())
		if err == nil {
			got <- sub
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(queuedSubmission("sub-1", time.Now())))

	select {
	case sub := <-got:
		assert.Equal(t, "sub-1", sub.SubmissionID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestQueueCloseDrainsThenReportsEmpty(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue(queuedSubmission("sub-1", time.Now())))
	q.Close()

	err := q.Enqueue(queuedSubmission("sub-2", time.Now()))
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))

	sub, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.SubmissionID)

	_, err = q.Dequeue(context.Background())
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindNotFound))
}

func TestQueueCancelledContextWinsOverItems(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue(queuedSubmission("sub-1", time.Now())))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, q.Len())
}

func TestQueueDrainForShutdown(t *testing.T) {
	q := NewQueue()
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, q.Enqueue(queuedSubmission("second", base.Add(time.Minute))))
	require.NoError(t, q.Enqueue(queuedSubmission("first", base)))

	sub, err := q.drain()
	require.NoError(t, err)
	assert.Equal(t, "first", sub.SubmissionID)

	sub, err = q.drain()
	require.NoError(t, err)
	assert.Equal(t, "second", sub.SubmissionID)

	_, err = q.drain()
	require.Error(t, err)
}
