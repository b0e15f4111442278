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
	"bytes"
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"
	"golang.org/x/crypto/nacl/box"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/audit"
)

// envelope is the JSON artifact shape. Checkpoints is present only when
// verification material was requested.
type envelope struct {
	Events      []*audit.Event    `json:"events"`
	Checkpoints map[string]string `json:"checkpoints,omitempty"`
}

func encode(format Format, events []*audit.Event, verification bool, checkpoints map[string]string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return encodeJSON(events, checkpoints)
	case FormatCSV:
		return encodeCSV(events, verification, checkpoints)
	case FormatParquet:
		return encodeParquet(events, verification, checkpoints)
	default:
		return nil, aterrors.New(aterrors.KindValidation, "unsupported export format %q", format)
	}
}

func encodeJSON(events []*audit.Event, checkpoints map[string]string) ([]byte, error) {
	if events == nil {
		events = []*audit.Event{}
	}
	return json.MarshalIndent(envelope{Events: events, Checkpoints: checkpoints}, "", "  ")
}

var csvColumns = []string{
	"event_id", "seq", "timestamp", "organization_id", "project_id",
	"actor_type", "actor_id", "category", "event_type", "severity",
	"resource_type", "resource_id", "action", "request_id", "session_id",
}

var csvVerificationColumns = []string{"hash", "previous_hash", "checkpoint_hash"}

// encodeCSV flattens events one row each. With verification enabled, each
// row additionally carries its hash, previous_hash, and the day's
// checkpoint hash when one exists.
func encodeCSV(events []*audit.Event, verification bool, checkpoints map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := csvColumns
	if verification {
		header = append(append([]string{}, csvColumns...), csvVerificationColumns...)
	}
	if err := w.Write(header); err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "write csv header")
	}

	for _, e := range events {
		row := []string{
			e.EventID,
			strconv.FormatInt(e.Seq, 10),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.OrganizationID,
			e.ProjectID,
			string(e.Actor.Type),
			e.Actor.ID,
			string(e.Classification.Category),
			e.Classification.Type,
			string(e.Classification.Severity),
			e.Resource.Type,
			e.Resource.ID,
			string(e.Action),
			e.RequestID,
			e.SessionID,
		}
		if verification {
			row = append(row, e.Hash.String(), e.PreviousHash.String(), checkpoints[e.Day()])
		}
		if err := w.Write(row); err != nil {
			return nil, aterrors.Wrap(aterrors.KindInternal, err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "flush csv")
	}
	return buf.Bytes(), nil
}

// parquetRow mirrors the CSV flattening. Verification columns are always
// part of the schema; they are left empty when not requested.
type parquetRow struct {
	EventID        string `parquet:"event_id"`
	Seq            int64  `parquet:"seq"`
	TimestampNS    int64  `parquet:"timestamp_ns"`
	OrganizationID string `parquet:"organization_id"`
	ProjectID      string `parquet:"project_id"`
	ActorType      string `parquet:"actor_type"`
	ActorID        string `parquet:"actor_id"`
	Category       string `parquet:"category"`
	EventType      string `parquet:"event_type"`
	Severity       string `parquet:"severity"`
	ResourceType   string `parquet:"resource_type"`
	ResourceID     string `parquet:"resource_id"`
	Action         string `parquet:"action"`
	RequestID      string `parquet:"request_id"`
	SessionID      string `parquet:"session_id"`
	Hash           string `parquet:"hash"`
	PreviousHash   string `parquet:"previous_hash"`
	CheckpointHash string `parquet:"checkpoint_hash"`
}

func encodeParquet(events []*audit.Event, verification bool, checkpoints map[string]string) ([]byte, error) {
	rows := make([]parquetRow, 0, len(events))
	for _, e := range events {
		row := parquetRow{
			EventID:        e.EventID,
			Seq:            e.Seq,
			TimestampNS:    e.Timestamp.UnixNano(),
			OrganizationID: e.OrganizationID,
			ProjectID:      e.ProjectID,
			ActorType:      string(e.Actor.Type),
			ActorID:        e.Actor.ID,
			Category:       string(e.Classification.Category),
			EventType:      e.Classification.Type,
			Severity:       string(e.Classification.Severity),
			ResourceType:   e.Resource.Type,
			ResourceID:     e.Resource.ID,
			Action:         string(e.Action),
			RequestID:      e.RequestID,
			SessionID:      e.SessionID,
		}
		if verification {
			row.Hash = e.Hash.String()
			row.PreviousHash = e.PreviousHash.String()
			row.CheckpointHash = checkpoints[e.Day()]
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[parquetRow](&buf)
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, aterrors.Wrap(aterrors.KindInternal, err, "write parquet rows")
		}
	}
	if err := w.Close(); err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "finalize parquet")
	}
	return buf.Bytes(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "compress export")
	}
	if err := w.Close(); err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "compress export")
	}
	return buf.Bytes(), nil
}

// seal encrypts the artifact to the recipient's public key with an
// ephemeral sender key, so only the key holder can open it.
func seal(data []byte, recipient *[32]byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, data, recipient, rand.Reader)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "encrypt export")
	}
	return sealed, nil
}
