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
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/agenttrace/agenttrace/internal/log"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit"
	"github.com/agenttrace/agenttrace/pkg/audit/query"
)

// DefaultPollInterval is how often the worker looks for pending jobs.
const DefaultPollInterval = 2 * time.Second

// Request describes one export.
type Request struct {
	OrganizationID      string       `json:"organization_id"`
	From                time.Time    `json:"from"`
	To                  time.Time    `json:"to"`
	Format              Format       `json:"format"`
	Filters             query.Filter `json:"filters,omitempty"`
	IncludeVerification bool         `json:"include_verification,omitempty"`
	Compress            bool         `json:"compress,omitempty"`
	// EncryptionKey is the recipient's hex-encoded 32-byte public key.
	EncryptionKey string `json:"encryption_key,omitempty"`
}

// ExporterConfig tunes the export worker.
type ExporterConfig struct {
	// Dir receives the artifacts.
	Dir string
	// PollInterval overrides the default claim cadence.
	PollInterval time.Duration
	// Recorder receives audit_log.exported events; nil disables.
	Recorder query.Recorder
	// Limits overrides the per-principal export rate budget.
	Limits query.Limits
}

// Exporter accepts export requests and processes them in the background.
type Exporter struct {
	cfg     ExporterConfig
	jobs    *JobStore
	storage audit.Storage
	limiter *query.RateLimiter
	now     func() time.Time
}

// NewExporter wires the exporter over a job store and event storage.
func NewExporter(jobs *JobStore, storage audit.Storage, cfg ExporterConfig) *Exporter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Exporter{
		cfg:     cfg,
		jobs:    jobs,
		storage: storage,
		limiter: query.NewRateLimiter(cfg.Limits),
		now:     time.Now,
	}
}

// CreateExport validates and enqueues an export, returning the pending
// job immediately.
func (x *Exporter) CreateExport(ctx context.Context, principal *query.Principal, req Request) (*Job, error) {
	if err := principal.Require(query.CapabilityExport); err != nil {
		return nil, err
	}
	if err := x.limiter.Allow(principal.ID, query.ClassExport); err != nil {
		return nil, err
	}
	if req.OrganizationID == "" {
		return nil, aterrors.New(aterrors.KindValidation, "organization_id is required")
	}
	if req.From.IsZero() || req.To.IsZero() || !req.From.Before(req.To) {
		return nil, aterrors.New(aterrors.KindValidation, "a non-empty time range is required")
	}
	switch req.Format {
	case FormatJSON, FormatCSV, FormatParquet:
	default:
		return nil, aterrors.New(aterrors.KindValidation, "unsupported export format %q", req.Format)
	}
	if req.EncryptionKey != "" {
		if _, err := decodePublicKey(req.EncryptionKey); err != nil {
			return nil, err
		}
	}

	job := &Job{
		ExportID:            ulid.Make().String(),
		OrganizationID:      req.OrganizationID,
		From:                req.From,
		To:                  req.To,
		Format:              req.Format,
		Principal:           principal.ID,
		IncludeVerification: req.IncludeVerification,
		Compress:            req.Compress,
		EncryptionKey:       req.EncryptionKey,
		Filters:             req.Filters,
		Status:              StatusPending,
		CreatedAt:           x.now().UTC(),
	}
	if err := x.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	log.Info("export queued",
		zap.String("export_id", job.ExportID),
		zap.String("org", job.OrganizationID),
		zap.String("format", string(job.Format)))
	return job, nil
}

// GetExport fetches a job's current state.
func (x *Exporter) GetExport(ctx context.Context, principal *query.Principal, exportID string) (*Job, error) {
	if err := principal.Require(query.CapabilityExport); err != nil {
		return nil, err
	}
	return x.jobs.Get(ctx, exportID)
}

// Run processes jobs until the context ends. Expired artifacts are swept
// on the same cadence.
func (x *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(x.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x.ProcessPending(ctx)
			x.sweepExpired(ctx)
		}
	}
}

// ProcessPending drains every pending job. Exposed so the CLI can run an
// export synchronously.
func (x *Exporter) ProcessPending(ctx context.Context) {
	for {
		job, err := x.jobs.ClaimNext(ctx)
		if err != nil {
			if !aterrors.IsKind(err, aterrors.KindNotFound) {
				log.Error("claim export job failed", zap.Error(err))
			}
			return
		}
		x.process(ctx, job)
	}
}

func (x *Exporter) process(ctx context.Context, job *Job) {
	path, count, err := x.render(ctx, job)
	if err != nil {
		log.Error("export failed",
			zap.String("export_id", job.ExportID), zap.Error(err))
		if failErr := x.jobs.Fail(ctx, job.ExportID, err.Error()); failErr != nil {
			log.Error("mark export failed", zap.Error(failErr))
		}
		return
	}
	if err := x.jobs.Complete(ctx, job.ExportID, path, count); err != nil {
		log.Error("mark export completed", zap.Error(err))
		return
	}
	x.selfAudit(ctx, job)
	log.Info("export completed",
		zap.String("export_id", job.ExportID),
		zap.Int("events", count),
		zap.String("path", path))
}

func (x *Exporter) render(ctx context.Context, job *Job) (string, int, error) {
	events, err := x.storage.QueryEvents(ctx, job.OrganizationID, job.From, job.To)
	if err != nil {
		return "", 0, err
	}
	events = query.FilterEvents(events, job.Filters)

	var checkpoints map[string]string
	if job.IncludeVerification {
		checkpoints = x.checkpointHashes(ctx, job.OrganizationID, events)
	}

	data, err := encode(job.Format, events, job.IncludeVerification, checkpoints)
	if err != nil {
		return "", 0, err
	}

	name := job.ExportID + "." + string(job.Format)
	if job.Compress {
		if data, err = gzipBytes(data); err != nil {
			return "", 0, err
		}
		name += ".gz"
	}
	if job.EncryptionKey != "" {
		key, err := decodePublicKey(job.EncryptionKey)
		if err != nil {
			return "", 0, err
		}
		if data, err = seal(data, key); err != nil {
			return "", 0, err
		}
		name += ".enc"
	}

	path := filepath.Join(x.cfg.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", 0, aterrors.Wrap(aterrors.KindStorage, err, "write export artifact")
	}
	return path, len(events), nil
}

// checkpointHashes collects the checkpoint hash for each day the export
// touches. Days without a checkpoint yet are simply absent.
func (x *Exporter) checkpointHashes(ctx context.Context, org string, events []*audit.Event) map[string]string {
	out := make(map[string]string)
	for _, e := range events {
		day := e.Day()
		if _, seen := out[day]; seen {
			continue
		}
		cp, err := x.storage.GetCheckpoint(ctx, org, day)
		if err != nil {
			continue
		}
		hash, err := audit.CheckpointHashOf(cp)
		if err != nil {
			continue
		}
		out[day] = hash.String()
	}
	return out
}

func (x *Exporter) sweepExpired(ctx context.Context) {
	expired, err := x.jobs.Expired(ctx, x.now())
	if err != nil {
		log.Error("list expired exports failed", zap.Error(err))
		return
	}
	for _, job := range expired {
		if job.Path != "" {
			if err := os.Remove(job.Path); err != nil && !os.IsNotExist(err) {
				log.Warn("remove expired artifact failed",
					zap.String("path", job.Path), zap.Error(err))
				continue
			}
		}
		if err := x.jobs.Delete(ctx, job.ExportID); err != nil {
			log.Error("delete expired export failed", zap.Error(err))
		}
	}
}

func (x *Exporter) selfAudit(ctx context.Context, job *Job) {
	if x.cfg.Recorder == nil {
		return
	}
	_, err := x.cfg.Recorder.Capture(ctx, &audit.Entry{
		OrganizationID: job.OrganizationID,
		Actor:          audit.Actor{Type: audit.ActorUser, ID: job.Principal},
		Classification: audit.Classification{
			Category: audit.CategoryAdmin,
			Type:     query.EventTypeExported,
			Severity: audit.SeverityInfo,
		},
		Resource:  audit.Resource{Type: "audit_export", ID: job.ExportID},
		Action:    audit.ActionExport,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		log.Warn("self-audit capture failed",
			zap.String("export_id", job.ExportID), zap.Error(err))
	}
}

func marshalFilters(f query.Filter) string {
	data, _ := json.Marshal(f)
	return string(data)
}

func unmarshalFilters(s string) query.Filter {
	var f query.Filter
	_ = json.Unmarshal([]byte(s), &f)
	return f
}

func decodePublicKey(hexKey string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, aterrors.New(aterrors.KindValidation, "encryption key must be 32 hex-encoded bytes")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
