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
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// DeadLetter persists batches that exhausted retries as JSONL files named
// batch-<ulid>.jsonl under <root>/_deadletter.
type DeadLetter struct {
	dir     string
	mu      sync.Mutex
	entropy *rand.Rand
	written atomic.Int64
}

// NewDeadLetter creates the dead-letter store rooted at dir.
func NewDeadLetter(root string) (*DeadLetter, error) {
	dir := filepath.Join(root, "_deadletter")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create deadletter dir: %w", err)
	}
	return &DeadLetter{
		dir:     dir,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// WriteSpans persists a failed batch. The sink name is recorded alongside
// each span so operators can replay against the right destination.
func (d *DeadLetter) WriteSpans(sinkName string, batch []*trace.Span) error {
	d.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), d.entropy)
	d.mu.Unlock()

	path := filepath.Join(d.dir, fmt.Sprintf("batch-%s.jsonl", id.String()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create deadletter file: %w", err)
	}
	defer f.Close()

	for _, span := range batch {
		line, err := trace.MarshalWire(span)
		if err != nil {
			return fmt.Errorf("marshal span %s: %w", span.SpanID, err)
		}
		if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
			return fmt.Errorf("write deadletter line: %w", err)
		}
	}

	d.written.Add(int64(len(batch)))
	return nil
}

// SpansWritten returns the total number of dead-lettered spans.
func (d *DeadLetter) SpansWritten() int64 {
	return d.written.Load()
}

// Dir returns the dead-letter directory.
func (d *DeadLetter) Dir() string {
	return d.dir
}
