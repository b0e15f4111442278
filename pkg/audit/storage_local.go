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
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agenttrace/agenttrace/internal/csync"
	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// LocalStorage keeps audit records on the local filesystem:
//
//	<root>/<org_id>/<yyyy>/<mm>/<dd>/<event_id>.json
//	<root>/<org_id>/checkpoints/<yyyy-mm-dd>.json
//
// Event files are created with O_EXCL so a rewrite fails, then chmod'd to
// 0444. The filesystem cannot give real WORM guarantees, so this backend is
// for development and single-node deployments; compliance deployments use
// the object-store backend.
type LocalStorage struct {
	root string

	// eventDays caches event_id -> day path so GetEvent avoids a tree walk
	// for events written by this process.
	eventDays *csync.Map[string, string]
}

// NewLocalStorage creates the root directory and returns the backend.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		return nil, aterrors.New(aterrors.KindValidation, "audit storage root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "create audit root")
	}
	return &LocalStorage{root: root, eventDays: csync.NewMap[string, string]()}, nil
}

// Name implements Storage.
func (s *LocalStorage) Name() string { return "local" }

// Root returns the storage root directory.
func (s *LocalStorage) Root() string { return s.root }

func (s *LocalStorage) dayDir(org string, day time.Time) string {
	day = day.UTC()
	return filepath.Join(s.root, org,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()))
}

// WriteEvent implements Storage.
func (s *LocalStorage) WriteEvent(_ context.Context, e *Event) error {
	dir := s.dayDir(e.OrganizationID, e.Timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "create event dir")
	}
	path := filepath.Join(dir, e.EventID+".json")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return duplicateWriteErr("event", e.EventID)
		}
		return aterrors.Wrap(aterrors.KindStorage, err, "create event file")
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return aterrors.Wrap(aterrors.KindStorage, err, "encode event %s", e.EventID)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return aterrors.Wrap(aterrors.KindStorage, err, "write event %s", e.EventID)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return aterrors.Wrap(aterrors.KindStorage, err, "sync event %s", e.EventID)
	}
	if err := f.Close(); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "close event %s", e.EventID)
	}
	if err := os.Chmod(path, 0o444); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "seal event %s", e.EventID)
	}
	s.eventDays.Set(e.EventID, dir)
	return nil
}

// GetEvent implements Storage. Events not in the day cache are located by
// walking the organization's tree.
func (s *LocalStorage) GetEvent(_ context.Context, org, eventID string) (*Event, error) {
	if dir, ok := s.eventDays.Get(eventID); ok {
		return s.readEventFile(filepath.Join(dir, eventID+".json"))
	}

	var found string
	orgRoot := filepath.Join(s.root, org)
	err := filepath.WalkDir(orgRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Missing subtrees just mean no events there.
			return nil
		}
		if d.IsDir() && d.Name() == "checkpoints" {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == eventID+".json" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "scan for event %s", eventID)
	}
	if found == "" {
		return nil, notFoundErr("event", eventID)
	}
	s.eventDays.Set(eventID, filepath.Dir(found))
	return s.readEventFile(found)
}

// QueryEvents implements Storage.
func (s *LocalStorage) QueryEvents(ctx context.Context, org string, from, to time.Time) ([]*Event, error) {
	var out []*Event
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := s.readDay(org, day)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
				out = append(out, e)
			}
		}
	}
	sortEvents(out)
	return out, nil
}

// LatestEvent implements Storage. It walks the org tree newest-day-first
// and picks the highest sequence number from the newest non-empty day.
func (s *LocalStorage) LatestEvent(_ context.Context, org string) (*Event, error) {
	days, err := s.listDays(org)
	if err != nil {
		return nil, err
	}
	for i := len(days) - 1; i >= 0; i-- {
		events, err := s.readDayDir(days[i])
		if err != nil {
			return nil, err
		}
		var latest *Event
		for _, e := range events {
			if latest == nil || e.Seq > latest.Seq {
				latest = e
			}
		}
		if latest != nil {
			return latest, nil
		}
	}
	return nil, notFoundErr("chain tail for org", org)
}

// WriteCheckpoint implements Storage. Sealed checkpoints are write-once;
// pending ones may be replaced by the timestamp retrier.
func (s *LocalStorage) WriteCheckpoint(_ context.Context, cp *Checkpoint) error {
	dir := filepath.Join(s.root, cp.OrganizationID, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "create checkpoint dir")
	}
	path := filepath.Join(dir, cp.Date+".json")

	if existing, err := s.readCheckpointFile(path); err == nil {
		if existing.Status != CheckpointPendingTimestamp {
			return duplicateWriteErr("checkpoint", cp.OrganizationID+"/"+cp.Date)
		}
		if err := os.Chmod(path, 0o644); err != nil {
			return aterrors.Wrap(aterrors.KindStorage, err, "unseal pending checkpoint")
		}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "encode checkpoint %s", cp.Date)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "write checkpoint %s", cp.Date)
	}
	if err := os.Rename(tmp, path); err != nil {
		return aterrors.Wrap(aterrors.KindStorage, err, "commit checkpoint %s", cp.Date)
	}
	if cp.Status != CheckpointPendingTimestamp {
		if err := os.Chmod(path, 0o444); err != nil {
			return aterrors.Wrap(aterrors.KindStorage, err, "seal checkpoint %s", cp.Date)
		}
	}
	return nil
}

// GetCheckpoint implements Storage.
func (s *LocalStorage) GetCheckpoint(_ context.Context, org, date string) (*Checkpoint, error) {
	path := filepath.Join(s.root, org, "checkpoints", date+".json")
	cp, err := s.readCheckpointFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundErr("checkpoint", org+"/"+date)
		}
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "read checkpoint %s/%s", org, date)
	}
	return cp, nil
}

// ListPendingCheckpoints implements Storage.
func (s *LocalStorage) ListPendingCheckpoints(_ context.Context) ([]*Checkpoint, error) {
	orgs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "list orgs")
	}
	var out []*Checkpoint
	for _, org := range orgs {
		if !org.IsDir() || strings.HasPrefix(org.Name(), "_") {
			continue
		}
		dir := filepath.Join(s.root, org.Name(), "checkpoints")
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, aterrors.Wrap(aterrors.KindStorage, err, "list checkpoints for %s", org.Name())
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			cp, err := s.readCheckpointFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, aterrors.Wrap(aterrors.KindStorage, err, "read checkpoint %s", entry.Name())
			}
			if cp.Status == CheckpointPendingTimestamp {
				out = append(out, cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *LocalStorage) readEventFile(path string) (*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundErr("event file", filepath.Base(path))
		}
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "read event file")
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "decode event file %s", filepath.Base(path))
	}
	return &e, nil
}

func (s *LocalStorage) readCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", filepath.Base(path), err)
	}
	return &cp, nil
}

func (s *LocalStorage) readDay(org string, day time.Time) ([]*Event, error) {
	return s.readDayDir(s.dayDir(org, day))
}

func (s *LocalStorage) readDayDir(dir string) ([]*Event, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "list event dir")
	}
	var out []*Event
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		e, err := s.readEventFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// listDays returns every yyyy/mm/dd directory for an org in ascending order.
func (s *LocalStorage) listDays(org string) ([]string, error) {
	orgRoot := filepath.Join(s.root, org)
	var days []string
	err := filepath.WalkDir(orgRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "checkpoints" {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(orgRoot, path)
		if relErr != nil {
			return relErr
		}
		if strings.Count(rel, string(filepath.Separator)) == 2 {
			days = append(days, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindStorage, err, "walk org %s", org)
	}
	sort.Strings(days)
	return days, nil
}
