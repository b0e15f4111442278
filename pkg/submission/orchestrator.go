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
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/internal/pubsub"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Orchestrator defaults.
const (
	DefaultNumWorkers   = 3
	DefaultGracePeriod  = 30 * time.Second
	progressBufferSize  = 64
	stateFilePermission = 0o600
)

// SubmissionStatus tracks a submission through the pipeline.
type SubmissionStatus string

const (
	StatusRejected  SubmissionStatus = "rejected"
	StatusQueued    SubmissionStatus = "queued"
	StatusRunning   SubmissionStatus = "running"
	StatusCompleted SubmissionStatus = "completed"
	StatusFailed    SubmissionStatus = "failed"
)

// SubmissionResult is the orchestrator's record for one submission.
type SubmissionResult struct {
	SubmissionID string              `json:"submission_id"`
	Status       SubmissionStatus    `json:"status"`
	Validation   *ValidationResult   `json:"validation,omitempty"`
	Execution    *BenchmarkExecution `json:"execution,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"`
	StartedAt    time.Time           `json:"started_at,omitempty"`
	FinishedAt   time.Time           `json:"finished_at,omitempty"`
}

// OrchestratorConfig tunes the submission pipeline.
type OrchestratorConfig struct {
	// NumWorkers is the number of concurrent benchmark runs (default 3).
	NumWorkers int
	// GracePeriod bounds how long a graceful stop waits for in-flight
	// runs (default 30s).
	GracePeriod time.Duration
	// StateFile, when set, receives queued and in-flight submissions on
	// graceful stop so a restart can resume them.
	StateFile string
	// Breaker configures the per-endpoint circuit breakers.
	Breaker BreakerConfig
	// TaskConcurrency bounds parallel tasks per category.
	TaskConcurrency int
	// HTTPClient serves http endpoints; nil uses a default client.
	HTTPClient *http.Client
	// Locals resolves local endpoints.
	Locals *LocalAgentRegistry
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.NumWorkers <= 0 {
		c.NumWorkers = DefaultNumWorkers
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
}

// Orchestrator runs the full submission pipeline: validation and quota
// admission on Submit, a bounded worker pool draining the queue, circuit
// breakers per endpoint, and progress multicast to subscribers.
type Orchestrator struct {
	cfg       OrchestratorConfig
	benchmark *Benchmark
	validator *Validator
	quota     *QuotaStore
	queue     *Queue
	breakers  *BreakerSet
	progress  *pubsub.Broker[ExecutionProgress]

	mu      sync.Mutex
	results map[string]*SubmissionResult
	running map[string]*Submission

	cancel  context.CancelFunc
	workers sync.WaitGroup
	started bool
}

// NewOrchestrator wires the pipeline around a benchmark suite. The
// validator's reachability probe may be nil to skip endpoint probing.
func NewOrchestrator(cfg OrchestratorConfig, benchmark *Benchmark, reach Reachability) *Orchestrator {
	cfg.applyDefaults()
	quota := NewQuotaStore()
	return &Orchestrator{
		cfg:       cfg,
		benchmark: benchmark,
		validator: NewValidator(quota, benchmark.CategoryIDs(), reach, cfg.Locals),
		quota:     quota,
		queue:     NewQueue(),
		breakers:  NewBreakerSet(cfg.Breaker),
		progress:  pubsub.NewBroker[ExecutionProgress](progressBufferSize),
		results:   make(map[string]*SubmissionResult),
		running:   make(map[string]*Submission),
	}
}

// Start launches the worker pool. The context bounds all benchmark runs.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	for i := 0; i < o.cfg.NumWorkers; i++ {
		o.workers.Add(1)
		go o.worker(ctx, i)
	}
	log.Info("submission orchestrator started", zap.Int("workers", o.cfg.NumWorkers))
}

// Submit validates and admits a submission. Rejections and quota denials
// are recorded and returned; accepted submissions are queued.
func (o *Orchestrator) Submit(ctx context.Context, sub *Submission) (*SubmissionResult, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}

	validation := o.validator.Validate(ctx, sub)
	if !validation.Valid {
		result := &SubmissionResult{
			SubmissionID: sub.SubmissionID,
			Status:       StatusRejected,
			Validation:   validation,
			ErrorKind:    string(aterrors.KindValidation),
			FinishedAt:   time.Now().UTC(),
		}
		o.record(result)
		return result, aterrors.New(aterrors.KindValidation, "submission %s rejected: %s", sub.SubmissionID, validation.Errors[0])
	}

	decision := o.quota.Admit(sub.SubmittedBy)
	if !decision.Allowed {
		result := &SubmissionResult{
			SubmissionID: sub.SubmissionID,
			Status:       StatusRejected,
			Validation:   validation,
			Error:        decision.Reason,
			ErrorKind:    string(aterrors.KindQuotaExceeded),
			FinishedAt:   time.Now().UTC(),
		}
		o.record(result)
		return result, aterrors.New(aterrors.KindQuotaExceeded, "%s, retry after %s", decision.Reason, decision.RetryAfter.Round(time.Second))
	}

	if err := o.queue.Enqueue(sub); err != nil {
		return nil, err
	}
	result := &SubmissionResult{
		SubmissionID: sub.SubmissionID,
		Status:       StatusQueued,
		Validation:   validation,
	}
	o.record(result)
	log.Info("submission queued",
		zap.String("submission_id", sub.SubmissionID),
		zap.String("agent", sub.AgentName),
		zap.Int("queue_depth", o.queue.Len()))
	return result, nil
}

// Result returns the recorded state of a submission.
func (o *Orchestrator) Result(submissionID string) (*SubmissionResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result, ok := o.results[submissionID]
	if !ok {
		return nil, aterrors.New(aterrors.KindNotFound, "submission %s not found", submissionID)
	}
	return result, nil
}

// Progress subscribes to per-task progress updates. The channel closes
// when ctx is cancelled or the orchestrator shuts down.
func (o *Orchestrator) Progress(ctx context.Context) <-chan ExecutionProgress {
	return o.progress.Subscribe(ctx)
}

// QueueDepth reports the number of submissions waiting for a worker.
func (o *Orchestrator) QueueDepth() int { return o.queue.Len() }

// Breakers exposes the per-endpoint breaker set, primarily for status
// reporting.
func (o *Orchestrator) Breakers() *BreakerSet { return o.breakers }

func (o *Orchestrator) worker(ctx context.Context, id int) {
	defer o.workers.Done()
	for {
		sub, err := o.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		o.run(ctx, sub, id)
	}
}

func (o *Orchestrator) run(ctx context.Context, sub *Submission, worker int) {
	result := &SubmissionResult{
		SubmissionID: sub.SubmissionID,
		Status:       StatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	o.record(result)
	o.setRunning(sub, true)
	defer o.setRunning(sub, false)

	breaker := o.breakers.For(sub.Endpoint.Key())
	// Ready does not consume the half-open probe slot; admission of the
	// single probe happens per invocation inside the guarded agent.
	if err := breaker.Ready(); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.ErrorKind = string(aterrors.KindCircuitOpen)
		result.FinishedAt = time.Now().UTC()
		o.record(result)
		log.Warn("submission skipped, endpoint circuit open",
			zap.String("submission_id", sub.SubmissionID),
			zap.String("endpoint", sub.Endpoint.Key()))
		return
	}

	tasks := NewTaskExecutor()
	tasks.Recorder = NewExecutionRecorder()
	executor := NewBenchmarkExecutor(tasks)
	executor.HTTPClient = o.cfg.HTTPClient
	executor.Locals = o.cfg.Locals
	executor.WrapAgent = func(a Agent) Agent { return GuardAgent(a, breaker) }
	if o.cfg.TaskConcurrency > 0 {
		executor.TaskConcurrency = o.cfg.TaskConcurrency
	}

	progress := func(completed, total int, currentTask string) {
		o.progress.Publish(ExecutionProgress{
			SubmissionID: sub.SubmissionID,
			Completed:    completed,
			Total:        total,
			CurrentTask:  currentTask,
		})
	}

	execution, err := executor.Execute(ctx, sub, o.benchmark, progress)
	result.FinishedAt = time.Now().UTC()
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.ErrorKind = string(aterrors.KindOf(err))
		o.record(result)
		log.Error("benchmark run failed",
			zap.String("submission_id", sub.SubmissionID),
			zap.Int("worker", worker),
			zap.Error(err))
		return
	}

	result.Status = StatusCompleted
	result.Execution = execution
	o.record(result)
	log.Info("benchmark run completed",
		zap.String("submission_id", sub.SubmissionID),
		zap.Int("worker", worker),
		zap.Float64("overall_score", execution.OverallScore))
}

// record stores a snapshot so callers of Result never observe a
// SubmissionResult a worker is still mutating.
func (o *Orchestrator) record(result *SubmissionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	snapshot := *result
	o.results[result.SubmissionID] = &snapshot
}

func (o *Orchestrator) setRunning(sub *Submission, running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if running {
		o.running[sub.SubmissionID] = sub
	} else {
		delete(o.running, sub.SubmissionID)
	}
}

// orchestratorState is what a graceful stop persists for resumption.
type orchestratorState struct {
	SavedAt time.Time     `json:"saved_at"`
	Pending []*Submission `json:"pending,omitempty"`
	Running []*Submission `json:"running,omitempty"`
}

// Stop shuts the pipeline down. Graceful stops close intake, wait up to
// the grace period for workers to drain, and persist unfinished work to
// the configured state file; non-graceful stops cancel runs immediately.
func (o *Orchestrator) Stop(graceful bool) error {
	o.mu.Lock()
	cancel := o.cancel
	o.started = false
	o.mu.Unlock()

	o.queue.Close()

	if graceful {
		done := make(chan struct{})
		go func() {
			o.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(o.cfg.GracePeriod):
			log.Warn("grace period elapsed with runs in flight",
				zap.Duration("grace_period", o.cfg.GracePeriod))
		}
	}
	if cancel != nil {
		cancel()
	}
	o.workers.Wait()
	o.progress.Shutdown()

	if o.cfg.StateFile != "" {
		if err := o.saveState(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) saveState() error {
	state := orchestratorState{SavedAt: time.Now().UTC()}
	for {
		sub, err := o.queue.drain()
		if err != nil {
			break
		}
		state.Pending = append(state.Pending, sub)
	}
	o.mu.Lock()
	for _, sub := range o.running {
		state.Running = append(state.Running, sub)
	}
	o.mu.Unlock()

	if len(state.Pending) == 0 && len(state.Running) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.cfg.StateFile, data, stateFilePermission); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "persist orchestrator state")
	}
	log.Info("orchestrator state persisted",
		zap.String("path", o.cfg.StateFile),
		zap.Int("pending", len(state.Pending)),
		zap.Int("running", len(state.Running)))
	return nil
}

// Restore re-enqueues submissions persisted by a previous graceful stop.
// Interrupted runs restart from the beginning; their deterministic task
// order makes the rerun equivalent. Missing state files are not an error.
func (o *Orchestrator) Restore() (int, error) {
	if o.cfg.StateFile == "" {
		return 0, nil
	}
	data, err := os.ReadFile(o.cfg.StateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, aterrors.Wrap(aterrors.KindStorage, err, "read orchestrator state")
	}
	var state orchestratorState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, aterrors.Wrap(aterrors.KindStorage, err, "decode orchestrator state")
	}

	restored := 0
	for _, sub := range append(state.Running, state.Pending...) {
		if err := o.queue.Enqueue(sub); err != nil {
			return restored, err
		}
		o.record(&SubmissionResult{SubmissionID: sub.SubmissionID, Status: StatusQueued})
		restored++
	}
	if restored > 0 {
		_ = os.Remove(o.cfg.StateFile)
		log.Info("orchestrator state restored", zap.Int("submissions", restored))
	}
	return restored, nil
}
