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
package export

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

// Mode selects the pipeline scheduling model.
type Mode string

const (
	// ModeDisabled accepts and discards all spans.
	ModeDisabled Mode = "disabled"
	// ModeSync runs a single export worker.
	ModeSync Mode = "sync"
	// ModeAsync runs the configured number of workers.
	ModeAsync Mode = "async"
)

// Config configures the export pipeline.
type Config struct {
	Mode Mode
	// Workers is the worker count in async mode. Default 1.
	Workers int
	// QueueSize bounds the span queue. Default 2048.
	QueueSize int
	// BatchSize triggers a flush when reached. Default 100.
	BatchSize int
	// BatchInterval triggers a flush when elapsed. Default 5s.
	BatchInterval time.Duration
	// SampleRate in [0,1]; 1 keeps everything. Default 1.
	SampleRate float64
	// Retry controls per-batch backoff.
	Retry RetryPolicy
	// Privacy controls redaction before export.
	Privacy PrivacyConfig
	// DeadLetterRoot is the directory under which _deadletter/ is created.
	// Empty disables dead-lettering.
	DeadLetterRoot string
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeAsync
	}
	switch c.Mode {
	case ModeDisabled:
		c.Workers = 0
	case ModeSync:
		c.Workers = 1
	case ModeAsync:
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2048
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 5 * time.Second
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1
	}
	return c
}

// Metrics are the pipeline's drop and delivery counters.
type Metrics struct {
	Emitted      int64
	Sampled      int64
	DroppedFull  int64
	Delivered    int64
	DeadLettered int64
}

// Pipeline moves closed spans from the tracer to a sink through a bounded
// queue drained by export workers. Emit never blocks and never returns an
// error; overload drops the oldest queued span.
type Pipeline struct {
	cfg      Config
	sink     Sink
	sampler  *Sampler
	redactor *Redactor
	dead     *DeadLetter

	queue chan *trace.Span
	wg    sync.WaitGroup

	// mu orders Emit's send against Shutdown's close of queue.
	mu        sync.RWMutex
	accepting atomic.Bool

	emitted      atomic.Int64
	sampledOut   atomic.Int64
	droppedFull  atomic.Int64
	delivered    atomic.Int64
	deadLettered atomic.Int64
}

// NewPipeline creates and starts a pipeline delivering to sink.
func NewPipeline(cfg Config, sink Sink) (*Pipeline, error) {
	cfg = cfg.withDefaults()

	p := &Pipeline{
		cfg:      cfg,
		sink:     sink,
		sampler:  NewSampler(cfg.SampleRate),
		redactor: NewRedactor(cfg.Privacy),
		queue:    make(chan *trace.Span, cfg.QueueSize),
	}

	if cfg.DeadLetterRoot != "" {
		dead, err := NewDeadLetter(cfg.DeadLetterRoot)
		if err != nil {
			return nil, err
		}
		p.dead = dead
	}

	p.accepting.Store(true)
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// Emit enqueues a closed span for export. Non-blocking: a full queue evicts
// the oldest span (drop_oldest) so the newest data survives. Never panics to
// the caller.
func (p *Pipeline) Emit(span *trace.Span) {
	if span == nil || !p.accepting.Load() || p.cfg.Mode == ModeDisabled {
		return
	}
	p.emitted.Add(1)

	if !p.sampler.Keep(span.TraceID) {
		p.sampledOut.Add(1)
		return
	}

	span = p.redactor.Apply(span)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting.Load() {
		return
	}
	for {
		select {
		case p.queue <- span:
			return
		default:
		}
		// Queue full: evict the oldest and try again.
		select {
		case <-p.queue:
			p.droppedFull.Add(1)
		default:
		}
	}
}

// Shutdown stops accepting spans, drains the queue, flushes partial batches,
// and joins the workers. Spans still queued when ctx expires are written to
// the dead-letter store.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.accepting.CompareAndSwap(true, false) {
		return nil
	}
	p.mu.Lock()
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		var remaining []*trace.Span
		for span := range p.queue {
			remaining = append(remaining, span)
		}
		if len(remaining) > 0 && p.dead != nil {
			if err := p.dead.WriteSpans(p.sink.Name(), remaining); err != nil {
				log.Error("shutdown dead-letter write failed", zap.Error(err))
			}
			p.deadLettered.Add(int64(len(remaining)))
		}
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the pipeline counters.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		Emitted:      p.emitted.Load(),
		Sampled:      p.sampledOut.Load(),
		DroppedFull:  p.droppedFull.Load(),
		Delivered:    p.delivered.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

// worker accumulates spans into batches and flushes on size or interval.
func (p *Pipeline) worker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]*trace.Span, 0, p.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.deliver(batch)
		batch = make([]*trace.Span, 0, p.cfg.BatchSize)
	}

	for {
		select {
		case span, ok := <-p.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, span)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pipeline) deliver(batch []*trace.Span) {
	outcome, err := ExportWithRetry(context.Background(), p.sink, batch, p.cfg.Retry)
	if outcome == Delivered {
		p.delivered.Add(int64(len(batch)))
		return
	}

	log.Warn("export batch failed, dead-lettering",
		zap.String("sink", p.sink.Name()),
		zap.String("outcome", outcome.String()),
		zap.Int("spans", len(batch)),
		zap.Error(err))

	if p.dead != nil {
		if dlErr := p.dead.WriteSpans(p.sink.Name(), batch); dlErr != nil {
			log.Error("dead-letter write failed", zap.Error(dlErr))
			return
		}
	}
	p.deadLettered.Add(int64(len(batch)))
}
