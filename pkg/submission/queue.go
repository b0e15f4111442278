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
	"container/heap"
	"context"
	"sync"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Queue is a FIFO priority queue of submissions ordered by submitted_at.
// Dequeue blocks until a submission is available or the context ends.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  submissionHeap
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a submission. Returns an error once the queue is closed.
func (q *Queue) Enqueue(sub *Submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return aterrors.New(aterrors.KindValidation, "submission queue is closed")
	}
	heap.Push(&q.items, sub)
	q.cond.Signal()
	return nil
}

// Dequeue removes the earliest-submitted entry, blocking until one exists.
// Returns a not-found error when the queue closes empty, or the context
// error on cancellation.
func (q *Queue) Dequeue(ctx context.Context) (*Submission, error) {
	// Wake the cond wait when the context ends.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		// Cancellation wins over remaining items so a shutdown can
		// persist them instead of handing them to a dying worker.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(q.items) > 0 {
			return heap.Pop(&q.items).(*Submission), nil
		}
		if q.closed {
			return nil, aterrors.New(aterrors.KindNotFound, "submission queue drained")
		}
		q.cond.Wait()
	}
}

// drain non-blockingly removes the earliest-submitted entry, for state
// persistence during shutdown.
func (q *Queue) drain() (*Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, aterrors.New(aterrors.KindNotFound, "submission queue drained")
	}
	return heap.Pop(&q.items).(*Submission), nil
}

// Close stops accepting new submissions. Blocked Dequeue calls return once
// remaining entries are drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the queued submission count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type submissionHeap []*Submission

func (h submissionHeap) Len() int { return len(h) }

func (h submissionHeap) Less(i, j int) bool {
	if h[i].SubmittedAt.Equal(h[j].SubmittedAt) {
		return h[i].SubmissionID < h[j].SubmissionID
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}

func (h submissionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *submissionHeap) Push(x any) { *h = append(*h, x.(*Submission)) }

func (h *submissionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
