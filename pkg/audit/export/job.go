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
// Package export runs asynchronous audit export jobs: events rendered to
// JSON, CSV, or parquet, optionally compressed and encrypted, with a
// transactional job table and a 24h artifact expiry.
package export

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit/query"
)

// Format is the artifact encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Status tracks a job through its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ExpiryWindow is how long a completed artifact stays available.
const ExpiryWindow = 24 * time.Hour

// Job is one export request and its progress.
type Job struct {
	ExportID       string    `json:"export_id"`
	OrganizationID string    `json:"organization_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Format         Format    `json:"format"`
	Principal      string    `json:"principal"`

	IncludeVerification bool `json:"include_verification,omitempty"`
	Compress            bool `json:"compress,omitempty"`
	// EncryptionKey is the recipient's hex-encoded 32-byte public key;
	// empty means plaintext.
	EncryptionKey string       `json:"encryption_key,omitempty"`
	Filters       query.Filter `json:"filters,omitempty"`

	Status      Status    `json:"status"`
	Path        string    `json:"path,omitempty"`
	Error       string    `json:"error,omitempty"`
	Events      int       `json:"events,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

const jobSchema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	export_id            TEXT PRIMARY KEY,
	organization_id      TEXT NOT NULL,
	from_ts              INTEGER NOT NULL,
	to_ts                INTEGER NOT NULL,
	format               TEXT NOT NULL,
	principal            TEXT NOT NULL,
	include_verification INTEGER NOT NULL DEFAULT 0,
	compress             INTEGER NOT NULL DEFAULT 0,
	encryption_key       TEXT NOT NULL DEFAULT '',
	filters              TEXT NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL,
	path                 TEXT NOT NULL DEFAULT '',
	error                TEXT NOT NULL DEFAULT '',
	events               INTEGER NOT NULL DEFAULT 0,
	created_at           INTEGER NOT NULL,
	started_at           INTEGER,
	completed_at         INTEGER,
	expires_at           INTEGER
);
CREATE INDEX IF NOT EXISTS idx_export_status ON export_jobs (status, created_at);
`

// JobStore persists export jobs in sqlite. Status transitions are guarded
// by conditional updates so two workers can never claim the same job.
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenJobStore opens (and migrates) the job table at path. Use ":memory:"
// for tests.
func OpenJobStore(path string) (*JobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "open export job store")
	}
	if _, err := db.Exec(jobSchema); err != nil {
		_ = db.Close()
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "migrate export job store")
	}
	return &JobStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *JobStore) Close() error { return s.db.Close() }

// Create inserts a pending job.
func (s *JobStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO export_jobs
			(export_id, organization_id, from_ts, to_ts, format, principal,
			 include_verification, compress, encryption_key, filters,
			 status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ExportID, job.OrganizationID,
		job.From.UnixNano(), job.To.UnixNano(),
		string(job.Format), job.Principal,
		boolInt(job.IncludeVerification), boolInt(job.Compress),
		job.EncryptionKey, marshalFilters(job.Filters),
		string(StatusPending), job.CreatedAt.UnixNano())
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "create export job %s", job.ExportID)
	}
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(ctx context.Context, exportID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT export_id, organization_id, from_ts, to_ts, format, principal,
		       include_verification, compress, encryption_key, filters,
		       status, path, error, events,
		       created_at, started_at, completed_at, expires_at
		FROM export_jobs WHERE export_id = ?`, exportID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, aterrors.New(aterrors.KindNotFound, "export %s not found", exportID)
	}
	return job, err
}

// ClaimNext atomically moves the oldest pending job to processing and
// returns it, or a not_found error when nothing is pending.
func (s *JobStore) ClaimNext(ctx context.Context) (*Job, error) {
	for {
		var exportID string
		err := s.db.QueryRowContext(ctx, `
			SELECT export_id FROM export_jobs
			WHERE status = ? ORDER BY created_at LIMIT 1`,
			string(StatusPending)).Scan(&exportID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, aterrors.New(aterrors.KindNotFound, "no pending export jobs")
		}
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "claim export job")
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE export_jobs SET status = ?, started_at = ?
			WHERE export_id = ? AND status = ?`,
			string(StatusProcessing), s.now().UnixNano(), exportID, string(StatusPending))
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "claim export job %s", exportID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "claim export job %s", exportID)
		}
		if n == 1 {
			return s.Get(ctx, exportID)
		}
		// Another worker won the race; try the next pending job.
	}
}

// Complete marks a processing job done and stamps its expiry.
func (s *JobStore) Complete(ctx context.Context, exportID, path string, events int) error {
	now := s.now()
	return s.transition(ctx, exportID, StatusProcessing, `
		UPDATE export_jobs
		SET status = ?, path = ?, events = ?, completed_at = ?, expires_at = ?
		WHERE export_id = ? AND status = ?`,
		string(StatusCompleted), path, events,
		now.UnixNano(), now.Add(ExpiryWindow).UnixNano(),
		exportID, string(StatusProcessing))
}

// Fail marks a processing job failed.
func (s *JobStore) Fail(ctx context.Context, exportID, message string) error {
	return s.transition(ctx, exportID, StatusProcessing, `
		UPDATE export_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE export_id = ? AND status = ?`,
		string(StatusFailed), message, s.now().UnixNano(),
		exportID, string(StatusProcessing))
}

func (s *JobStore) transition(ctx context.Context, exportID string, from Status, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "update export job %s", exportID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "update export job %s", exportID)
	}
	if n != 1 {
		return aterrors.New(aterrors.KindStorage, "export job %s is not %s", exportID, from)
	}
	return nil
}

// Expired returns completed jobs whose artifacts have passed their expiry.
func (s *JobStore) Expired(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT export_id, organization_id, from_ts, to_ts, format, principal,
		       include_verification, compress, encryption_key, filters,
		       status, path, error, events,
		       created_at, started_at, completed_at, expires_at
		FROM export_jobs
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(StatusCompleted), now.UnixNano())
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "list expired exports")
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Delete removes a job record.
func (s *JobStore) Delete(ctx context.Context, exportID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE export_id = ?`, exportID)
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "delete export job %s", exportID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                           Job
		format, status, filters       string
		includeVerification, compress int
		fromNS, toNS, createdNS       int64
		startedNS, completedNS, expNS sql.NullInt64
	)
	err := row.Scan(&job.ExportID, &job.OrganizationID, &fromNS, &toNS,
		&format, &job.Principal, &includeVerification, &compress,
		&job.EncryptionKey, &filters, &status, &job.Path, &job.Error,
		&job.Events, &createdNS, &startedNS, &completedNS, &expNS)
	if err != nil {
		return nil, err
	}
	job.From = time.Unix(0, fromNS).UTC()
	job.To = time.Unix(0, toNS).UTC()
	job.Format = Format(format)
	job.Status = Status(status)
	job.IncludeVerification = includeVerification != 0
	job.Compress = compress != 0
	job.Filters = unmarshalFilters(filters)
	job.CreatedAt = time.Unix(0, createdNS).UTC()
	if startedNS.Valid {
		job.StartedAt = time.Unix(0, startedNS.Int64).UTC()
	}
	if completedNS.Valid {
		job.CompletedAt = time.Unix(0, completedNS.Int64).UTC()
	}
	if expNS.Valid {
		job.ExpiresAt = time.Unix(0, expNS.Int64).UTC()
	}
	return &job, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
