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
// Package pubsub provides a generic in-process publish/subscribe broker.
//
// Delivery is best-effort fan-out: each subscriber owns a bounded buffer and
// a subscriber whose buffer overflows is disconnected rather than allowed to
// stall the publisher.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber buffer capacity used when a broker
// is created with size <= 0.
const DefaultBufferSize = 10000

// Broker fans out published values to all current subscribers.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[int64]chan T
	nextID     atomic.Int64
	bufSize    int
	dropped    atomic.Int64
	closedOnce sync.Once
	closed     bool
}

// NewBroker creates a broker with the given per-subscriber buffer size.
func NewBroker[T any](bufSize int) *Broker[T] {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Broker[T]{
		subs:    make(map[int64]chan T),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// the context is cancelled, the subscriber falls behind, or the broker shuts
// down.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.bufSize)
	if b.closed {
		close(ch)
		return ch
	}

	id := b.nextID.Add(1)
	b.subs[id] = ch

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return ch
}

// Publish delivers v to every subscriber. Subscribers with full buffers are
// disconnected.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	var evict []int64
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			evict = append(evict, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range evict {
		b.dropped.Add(1)
		b.unsubscribe(id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of subscribers disconnected for falling behind.
func (b *Broker[T]) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown disconnects all subscribers and rejects future ones.
func (b *Broker[T]) Shutdown() {
	b.closedOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for id, ch := range b.subs {
			close(ch)
			delete(b.subs, id)
		}
	})
}

func (b *Broker[T]) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
