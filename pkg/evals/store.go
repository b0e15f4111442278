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
package evals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Store persists batch evaluations so later runs can be compared against a
// stored baseline. Use ":memory:" as the path for tests.
type Store struct {
	db *sql.DB
}

// BatchRecord is a stored batch with its row identity.
type BatchRecord struct {
	ID        int64
	Suite     string
	CreatedAt time.Time
	Batch     *BatchEvaluation
}

// NewStore opens (or creates) the evaluation database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open evaluation store: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize evaluation schema: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_evaluations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		suite       TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		total       INTEGER NOT NULL,
		passed      INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		errored     INTEGER NOT NULL,
		pass_rate   REAL,
		payload     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batch_suite ON batch_evaluations(suite, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBatch stores a batch under a suite name and returns its row ID.
func (s *Store) SaveBatch(ctx context.Context, suite string, batch *BatchEvaluation) (int64, error) {
	if suite == "" {
		return 0, aterrors.New(aterrors.KindValidation, "suite name is required")
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("marshal batch: %w", err)
	}

	var passRate sql.NullFloat64
	if batch.Summary.PassRate != nil {
		passRate = sql.NullFloat64{Float64: *batch.Summary.PassRate, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_evaluations
			(suite, created_at, started_at, finished_at, total, passed, failed, errored, pass_rate, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		suite, time.Now().UTC(), batch.StartedAt, batch.FinishedAt,
		batch.Summary.Total, batch.Summary.Passed, batch.Summary.Failed, batch.Summary.Error,
		passRate, string(payload))
	if err != nil {
		return 0, aterrors.Wrap(aterrors.KindStorage, err, "save batch for suite %s", suite)
	}
	return res.LastInsertId()
}

// GetBatch loads one stored batch by row ID.
func (s *Store) GetBatch(ctx context.Context, id int64) (*BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, suite, created_at, payload FROM batch_evaluations WHERE id = ?`, id)
	return scanRecord(row)
}

// LatestBatch loads the most recently stored batch for a suite. Returns a
// not-found error when the suite has no history.
func (s *Store) LatestBatch(ctx context.Context, suite string) (*BatchRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, suite, created_at, payload FROM batch_evaluations
		WHERE suite = ? ORDER BY created_at DESC, id DESC LIMIT 1`, suite)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, aterrors.New(aterrors.KindNotFound, "no stored batches for suite %s", suite)
	}
	return rec, err
}

// History returns up to limit stored batches for a suite, newest first.
func (s *Store) History(ctx context.Context, suite string, limit int) ([]*BatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite, created_at, payload FROM batch_evaluations
		WHERE suite = ? ORDER BY created_at DESC, id DESC LIMIT ?`, suite, limit)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "query history for suite %s", suite)
	}
	defer func() { _ = rows.Close() }()

	var records []*BatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*BatchRecord, error) {
	var (
		rec     BatchRecord
		payload string
	)
	if err := row.Scan(&rec.ID, &rec.Suite, &rec.CreatedAt, &payload); err != nil {
		return nil, err
	}
	rec.Batch = &BatchEvaluation{}
	if err := json.Unmarshal([]byte(payload), rec.Batch); err != nil {
		return nil, fmt.Errorf("decode stored batch %d: %w", rec.ID, err)
	}
	return &rec, nil
}
