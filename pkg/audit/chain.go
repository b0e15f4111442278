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
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/csync"
	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/internal/pubsub"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// ServiceConfig tunes the capture path.
type ServiceConfig struct {
	// BatchSize is the flusher's maximum batch (default 100).
	BatchSize int
	// BatchInterval caps how long a capture waits for a full batch
	// (default 5s).
	BatchInterval time.Duration
	// DedupWindow is the coarse-timestamp bucket for duplicate
	// suppression (default 60s). Zero disables deduplication.
	DedupWindow time.Duration
	// QueueSize bounds pending capture requests (default 4096).
	QueueSize int
}

func (c *ServiceConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Second
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
}

// orgChain is the serialization point for one organization. lastHash is
// only advanced after storage acknowledges the write, so a failed write
// leaves the chain untouched.
type orgChain struct {
	mu        sync.Mutex
	recovered bool
	lastHash  Hash
	lastSeq   int64
	lastTime  time.Time
}

type captureRequest struct {
	entry *Entry
	done  chan captureResult
}

type captureResult struct {
	event *Event
	err   error
}

// Service is the audit capture service: it validates entries, deduplicates
// them, assigns chain positions under per-organization locks, and persists
// through a write-once Storage backend. Capture blocks until the event is
// durable and chained.
type Service struct {
	cfg     ServiceConfig
	storage Storage
	stream  *pubsub.Broker[*Event]
	now     func() time.Time

	chains *csync.Map[string, *orgChain]
	dedup  *dedupFilter

	queue    chan captureRequest
	wg       sync.WaitGroup
	stopOnce sync.Once

	captured      atomic.Int64
	deduplicated  atomic.Int64
	captureErrors atomic.Int64
}

// NewService creates and starts the capture service. The returned service
// publishes committed events on its stream broker for live subscribers.
func NewService(storage Storage, cfg ServiceConfig) *Service {
	cfg.defaults()
	s := &Service{
		cfg:     cfg,
		storage: storage,
		stream:  pubsub.NewBroker[*Event](pubsub.DefaultBufferSize),
		now:     time.Now,
		chains:  csync.NewMap[string, *orgChain](),
		dedup:   newDedupFilter(cfg.DedupWindow),
		queue:   make(chan captureRequest, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.flusher()
	return s
}

// Stream returns the broker carrying committed events.
func (s *Service) Stream() *pubsub.Broker[*Event] { return s.stream }

// Capture validates, chains, and persists an entry. It returns once the
// event is durable, or the previously committed event when the entry is a
// duplicate within the dedup window.
func (s *Service) Capture(ctx context.Context, entry *Entry) (*Event, error) {
	if err := entry.Validate(); err != nil {
		return nil, aterrors.Wrap(aterrors.KindValidation, err, "invalid audit entry")
	}

	req := captureRequest{entry: entry, done: make(chan captureResult, 1)}
	select {
	case s.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.event, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetEvent fetches a stored event.
func (s *Service) GetEvent(ctx context.Context, org, eventID string) (*Event, error) {
	return s.storage.GetEvent(ctx, org, eventID)
}

// QueryEvents returns events in [from, to) sorted by (timestamp, event_id).
func (s *Service) QueryEvents(ctx context.Context, org string, from, to time.Time) ([]*Event, error) {
	return s.storage.QueryEvents(ctx, org, from, to)
}

// GenerateProof builds a Merkle inclusion proof for an event against its
// organization-day tree.
func (s *Service) GenerateProof(ctx context.Context, org, eventID string) (*MerkleProof, error) {
	e, err := s.storage.GetEvent(ctx, org, eventID)
	if err != nil {
		return nil, err
	}
	day, err := time.Parse("2006-01-02", e.Day())
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "parse event day")
	}
	events, err := s.storage.QueryEvents(ctx, org, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	tree, err := NewMerkleTree(LeavesForEvents(events))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "build merkle tree")
	}
	proof, err := tree.Proof(e.Hash)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "generate proof for %s", eventID)
	}
	return proof, nil
}

// Organizations returns every organization this service has chained events
// for since startup.
func (s *Service) Organizations() []string {
	var orgs []string
	for org := range s.chains.Seq2() {
		orgs = append(orgs, org)
	}
	return orgs
}

// Metrics is a point-in-time capture counter snapshot.
type Metrics struct {
	Captured     int64
	Deduplicated int64
	Errors       int64
	QueueDepth   int
}

// Metrics returns capture counters.
func (s *Service) Metrics() Metrics {
	return Metrics{
		Captured:     s.captured.Load(),
		Deduplicated: s.deduplicated.Load(),
		Errors:       s.captureErrors.Load(),
		QueueDepth:   len(s.queue),
	}
}

// Shutdown stops the flusher after draining queued captures and closes the
// stream broker. Captures submitted after Shutdown fail.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.queue) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.stream.Shutdown()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit service shutdown: %w", ctx.Err())
	}
}

// flusher collects capture requests into batches bounded by BatchSize and
// BatchInterval, then commits each batch in arrival order.
func (s *Service) flusher() {
	defer s.wg.Done()

	for {
		req, ok := <-s.queue
		if !ok {
			return
		}
		batch := []captureRequest{req}

		timer := time.NewTimer(s.cfg.BatchInterval)
	fill:
		for len(batch) < s.cfg.BatchSize {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			case <-timer.C:
				break fill
			}
		}
		timer.Stop()

		for _, r := range batch {
			event, err := s.commit(r.entry)
			if err != nil {
				s.captureErrors.Add(1)
			}
			r.done <- captureResult{event: event, err: err}
		}
	}
}

// commit performs dedup, chain assignment, and the durable write for one
// entry.
func (s *Service) commit(entry *Entry) (*Event, error) {
	chain := s.chains.GetOrSet(entry.OrganizationID, func() *orgChain { return &orgChain{} })
	chain.mu.Lock()
	defer chain.mu.Unlock()

	if !chain.recovered {
		if err := s.recoverLocked(chain, entry.OrganizationID); err != nil {
			return nil, err
		}
	}

	// Service-assigned timestamps stay strictly monotonic per org so
	// sorting by (timestamp, event_id) reproduces chain order.
	if entry.Timestamp.IsZero() {
		ts := s.now().UTC()
		if !ts.After(chain.lastTime) {
			ts = chain.lastTime.Add(time.Nanosecond)
		}
		entry.Timestamp = ts
	}

	if prior := s.dedup.check(entry); prior != nil {
		s.deduplicated.Add(1)
		return prior, nil
	}

	event := &Event{
		EventID:        uuid.NewString(),
		Seq:            chain.lastSeq + 1,
		Timestamp:      entry.Timestamp.UTC(),
		OrganizationID: entry.OrganizationID,
		ProjectID:      entry.ProjectID,
		Actor:          entry.Actor,
		Classification: entry.Classification,
		Resource:       entry.Resource,
		Action:         entry.Action,
		PreviousState:  entry.PreviousState,
		NewState:       entry.NewState,
		RequestID:      entry.RequestID,
		SessionID:      entry.SessionID,
		PreviousHash:   chain.lastHash,
	}

	hash, err := EventHash(event, event.PreviousHash)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "hash event")
	}
	event.Hash = hash

	// Storage must acknowledge before the chain advances: a failed write
	// leaves lastHash untouched and the chain intact.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = s.storage.WriteEvent(ctx, event)
	cancel()
	if err != nil {
		return nil, err
	}

	chain.lastHash = event.Hash
	chain.lastSeq = event.Seq
	if event.Timestamp.After(chain.lastTime) {
		chain.lastTime = event.Timestamp
	}
	s.dedup.record(entry, event)
	s.captured.Add(1)
	s.stream.Publish(event)
	return event, nil
}

// recoverLocked restores lastHash and lastSeq from the storage tail so the
// chain continues across restarts. Caller holds the chain lock.
func (s *Service) recoverLocked(chain *orgChain, org string) error {
	tail, err := s.storage.LatestEvent(context.Background(), org)
	switch {
	case err == nil:
		chain.lastHash = tail.Hash
		chain.lastSeq = tail.Seq
		chain.lastTime = tail.Timestamp
		log.Debug("recovered audit chain tail",
			zap.String("org", org), zap.Int64("seq", tail.Seq))
	case aterrors.IsKind(err, aterrors.KindNotFound):
		chain.lastHash = ZeroHash
		chain.lastSeq = 0
	default:
		return err
	}
	chain.recovered = true
	return nil
}

// dedupFilter suppresses repeats of the same logical action within a
// coarse-timestamp window.
type dedupFilter struct {
	window time.Duration

	mu   sync.Mutex
	seen map[Hash]dedupRecord
}

type dedupRecord struct {
	event  *Event
	bucket int64
}

func newDedupFilter(window time.Duration) *dedupFilter {
	return &dedupFilter{window: window, seen: make(map[Hash]dedupRecord)}
}

func (d *dedupFilter) key(entry *Entry) (Hash, int64) {
	bucket := entry.Timestamp.UnixNano() / int64(d.window)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%d",
		entry.OrganizationID, entry.Actor.ID, entry.Classification.Type,
		entry.Resource.ID, entry.Action, bucket)
	var key Hash
	copy(key[:], h.Sum(nil))
	return key, bucket
}

// check returns the previously committed event for a duplicate entry, or
// nil when the entry is new. Expired records are pruned lazily.
func (d *dedupFilter) check(entry *Entry) *Event {
	if d.window <= 0 {
		return nil
	}
	key, bucket := d.key(entry)

	d.mu.Lock()
	defer d.mu.Unlock()
	for k, rec := range d.seen {
		if rec.bucket < bucket-1 {
			delete(d.seen, k)
		}
	}
	if rec, ok := d.seen[key]; ok {
		return rec.event
	}
	return nil
}

func (d *dedupFilter) record(entry *Entry, event *Event) {
	if d.window <= 0 {
		return
	}
	key, bucket := d.key(entry)
	d.mu.Lock()
	d.seen[key] = dedupRecord{event: event, bucket: bucket}
	d.mu.Unlock()
}
