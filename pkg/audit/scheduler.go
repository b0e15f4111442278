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
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// SchedulerConfig tunes the checkpoint schedules.
type SchedulerConfig struct {
	// CheckpointSpec is the cron expression for daily checkpoint creation
	// (default "15 0 * * *", shortly after UTC midnight so the previous
	// day is complete).
	CheckpointSpec string
	// RetrySpec is the cron expression for the pending-timestamp sweep
	// (default "45 * * * *").
	RetrySpec string
}

// Scheduler drives daily checkpoint creation and pending-timestamp
// retries on cron schedules.
type Scheduler struct {
	cron         *cron.Cron
	checkpointer *Checkpointer
	orgs         func() []string
	now          func() time.Time
}

// NewScheduler creates a scheduler. orgs supplies the organizations to
// checkpoint each day.
func NewScheduler(checkpointer *Checkpointer, orgs func() []string, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.CheckpointSpec == "" {
		cfg.CheckpointSpec = "15 0 * * *"
	}
	if cfg.RetrySpec == "" {
		cfg.RetrySpec = "45 * * * *"
	}

	s := &Scheduler{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		checkpointer: checkpointer,
		orgs:         orgs,
		now:          time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.CheckpointSpec, s.runDaily); err != nil {
		return nil, aterrors.Wrap(aterrors.KindValidation, err, "invalid checkpoint schedule %q", cfg.CheckpointSpec)
	}
	if _, err := s.cron.AddFunc(cfg.RetrySpec, s.runRetry); err != nil {
		return nil, aterrors.Wrap(aterrors.KindValidation, err, "invalid retry schedule %q", cfg.RetrySpec)
	}
	return s, nil
}

// Start begins the schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedules and waits for running jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runDaily checkpoints the previous UTC day for every known organization.
func (s *Scheduler) runDaily() {
	date := s.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	for _, org := range s.orgs() {
		cp, err := s.checkpointer.Create(ctx, org, date)
		switch {
		case err == nil:
			log.Info("daily checkpoint created",
				zap.String("org", org), zap.String("date", date),
				zap.Int("events", cp.EventCount), zap.String("status", string(cp.Status)))
		case aterrors.IsKind(err, aterrors.KindNotFound):
			// No events that day.
		default:
			log.Error("daily checkpoint failed",
				zap.String("org", org), zap.String("date", date), zap.Error(err))
		}
	}
}

// runRetry sweeps checkpoints persisted without a timestamp token.
func (s *Scheduler) runRetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	upgraded, err := s.checkpointer.RetryPending(ctx)
	if err != nil {
		log.Error("pending checkpoint sweep failed", zap.Error(err))
		return
	}
	if upgraded > 0 {
		log.Info("pending checkpoints sealed", zap.Int("upgraded", upgraded))
	}
}
