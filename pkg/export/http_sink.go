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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agenttrace/agenttrace/pkg/trace"
)

// HTTPSinkConfig configures the HTTP span sink.
type HTTPSinkConfig struct {
	// Endpoint receives batched POSTs, e.g. "https://collector/v1/spans".
	Endpoint string
	// APIKey, when set, is sent as a Bearer token.
	APIKey string
	// Client overrides the default HTTP client (30s timeout).
	Client *http.Client
}

// HTTPSink delivers span batches as a single JSON POST per batch.
type HTTPSink struct {
	cfg    HTTPSinkConfig
	client *http.Client
}

type httpExportPayload struct {
	Spans []trace.WireSpan `json:"spans"`
}

// NewHTTPSink creates an HTTP sink.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http sink endpoint required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSink{cfg: cfg, client: client}, nil
}

// Name implements Sink.
func (s *HTTPSink) Name() string { return "http" }

// Export implements Sink. 5xx and transport errors are transient; 4xx means
// the payload itself is rejected and retrying cannot help.
func (s *HTTPSink) Export(ctx context.Context, batch []*trace.Span) (Outcome, error) {
	payload := httpExportPayload{Spans: make([]trace.WireSpan, len(batch))}
	for i, span := range batch {
		payload.Spans[i] = trace.ToWire(span)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PermanentFailure, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return PermanentFailure, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return TransientFailure, fmt.Errorf("post spans: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return Delivered, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return TransientFailure, fmt.Errorf("collector rate-limited the batch")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return PermanentFailure, fmt.Errorf("collector rejected batch with status %d", resp.StatusCode)
	default:
		return TransientFailure, fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
}
