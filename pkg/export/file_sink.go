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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// FileSink appends spans as JSON lines to date-partitioned files:
// <dir>/spans-YYYY-MM-DD.jsonl.
type FileSink struct {
	dir string

	mu       sync.Mutex
	file     *os.File
	fileDate string
}

// NewFileSink creates a file sink writing under dir.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create span dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Export implements Sink. Filesystem errors are transient: disks fill and
// recover, so the batch is retried and eventually dead-lettered.
func (s *FileSink) Export(ctx context.Context, batch []*trace.Span) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileForDate(time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		return TransientFailure, err
	}

	for _, span := range batch {
		line, err := trace.MarshalWire(span)
		if err != nil {
			return PermanentFailure, fmt.Errorf("marshal span %s: %w", span.SpanID, err)
		}
		if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
			return TransientFailure, fmt.Errorf("write span: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		return TransientFailure, fmt.Errorf("sync span file: %w", err)
	}
	return Delivered, nil
}

// Close closes the current partition file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileSink) fileForDate(date string) (*os.File, error) {
	if s.file != nil && s.fileDate == date {
		return s.file, nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	path := filepath.Join(s.dir, fmt.Sprintf("spans-%s.jsonl", date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open span partition: %w", err)
	}
	s.file = f
	s.fileDate = date
	return f, nil
}
