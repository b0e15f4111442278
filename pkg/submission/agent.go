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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Invocation I/O limits.
const (
	MaxPromptBytes = 100 << 10
	MaxOutputBytes = 50 << 10
)

// AgentToolCall is one tool invocation reported by the agent.
type AgentToolCall struct {
	Name       string         `json:"name"`
	Params     map[string]any `json:"params,omitempty"`
	Result     string         `json:"result,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
}

// InvokeResult is the captured outcome of one agent invocation.
type InvokeResult struct {
	Output    string          `json:"output"`
	ToolCalls []AgentToolCall `json:"tool_calls,omitempty"`
	Duration  time.Duration   `json:"duration"`
	// Truncated is set when the output exceeded MaxOutputBytes.
	Truncated bool `json:"truncated,omitempty"`
}

// Agent invokes a submitted agent with one prompt under a deadline.
type Agent interface {
	Key() string
	Invoke(ctx context.Context, prompt string, timeout time.Duration) (*InvokeResult, error)
}

// agentResponseSchema is what a remote agent must answer with.
const agentResponseSchema = `{
	"type": "object",
	"required": ["output"],
	"properties": {
		"output": {"type": "string"},
		"tool_calls": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"params": {"type": "object"},
					"result": {"type": "string"},
					"duration_ms": {"type": "integer"}
				}
			}
		}
	}
}`

var responseSchema = gojsonschema.NewStringLoader(agentResponseSchema)

// sanitizePrompt enforces the input cap before anything leaves the process.
func sanitizePrompt(prompt string) error {
	if prompt == "" {
		return aterrors.New(aterrors.KindValidation, "prompt is empty")
	}
	if len(prompt) > MaxPromptBytes {
		return aterrors.New(aterrors.KindValidation, "prompt exceeds %d bytes", MaxPromptBytes)
	}
	return nil
}

func truncateOutput(result *InvokeResult) {
	if len(result.Output) > MaxOutputBytes {
		result.Output = result.Output[:MaxOutputBytes]
		result.Truncated = true
	}
}

// HTTPAgent invokes a remote agent over a JSON POST contract.
type HTTPAgent struct {
	endpoint AgentEndpoint
	client   *http.Client
}

// NewHTTPAgent builds an invoker for an http endpoint.
func NewHTTPAgent(endpoint AgentEndpoint, client *http.Client) *HTTPAgent {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAgent{endpoint: endpoint, client: client}
}

// Key implements Agent.
func (a *HTTPAgent) Key() string { return a.endpoint.Key() }

// Invoke implements Agent. Failures are classified for the circuit breaker:
// deadline overruns as agent_timeout, connection errors as
// agent_unreachable, everything else as agent_error.
func (a *HTTPAgent) Invoke(ctx context.Context, prompt string, timeout time.Duration) (*InvokeResult, error) {
	if err := sanitizePrompt(prompt); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindInternal, err, "marshal invocation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindAgent, err, "build invocation request")
	}
	req.Header.Set("Content-Type", "application/json")
	a.applyAuth(req)

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxOutputBytes*4))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, aterrors.New(aterrors.KindAgent, "agent returned status %d", resp.StatusCode)
	}

	check, err := gojsonschema.Validate(responseSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindAgent, err, "agent response is not JSON")
	}
	if !check.Valid() {
		return nil, aterrors.New(aterrors.KindAgent, "agent response violates contract: %s", schemaErrors(check))
	}

	var parsed InvokeResult
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, aterrors.Wrap(aterrors.KindAgent, err, "decode agent response")
	}
	parsed.Duration = time.Since(start)
	truncateOutput(&parsed)
	return &parsed, nil
}

func (a *HTTPAgent) applyAuth(req *http.Request) {
	auth := a.endpoint.Auth
	if auth == nil {
		return
	}
	switch auth.Scheme {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthAPIKey:
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.Token)
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return aterrors.Wrap(aterrors.KindAgentTimeout, err, "agent invocation timed out")
	case errors.As(err, &netErr) && netErr.Timeout():
		return aterrors.Wrap(aterrors.KindAgentTimeout, err, "agent invocation timed out")
	default:
		return aterrors.Wrap(aterrors.KindAgentUnreachable, err, "agent unreachable")
	}
}

func schemaErrors(result *gojsonschema.Result) string {
	var b bytes.Buffer
	for i, desc := range result.Errors() {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s", desc)
	}
	return b.String()
}

// AgentFunc is an in-process agent implementation.
type AgentFunc func(ctx context.Context, prompt string) (*InvokeResult, error)

// LocalAgentRegistry resolves module.function names to in-process agents.
type LocalAgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]AgentFunc
}

// NewLocalAgentRegistry creates an empty registry.
func NewLocalAgentRegistry() *LocalAgentRegistry {
	return &LocalAgentRegistry{agents: make(map[string]AgentFunc)}
}

// Register binds module.function to fn.
func (r *LocalAgentRegistry) Register(module, function string, fn AgentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[module+"."+function] = fn
}

// Resolve returns the registered agent function.
func (r *LocalAgentRegistry) Resolve(module, function string) (AgentFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.agents[module+"."+function]
	if !ok {
		return nil, aterrors.New(aterrors.KindNotFound, "local agent %s.%s not registered", module, function)
	}
	return fn, nil
}

// LocalAgent invokes an in-process agent function. Cancellation is
// best-effort: the function is told to stop through its context but cannot
// be pre-empted, so a timeout surfaces to the caller while the call may
// run on until it checks the context.
type LocalAgent struct {
	endpoint AgentEndpoint
	fn       AgentFunc
}

// NewLocalAgent resolves the endpoint in the registry.
func NewLocalAgent(endpoint AgentEndpoint, registry *LocalAgentRegistry) (*LocalAgent, error) {
	fn, err := registry.Resolve(endpoint.Module, endpoint.Function)
	if err != nil {
		return nil, err
	}
	return &LocalAgent{endpoint: endpoint, fn: fn}, nil
}

// Key implements Agent.
func (a *LocalAgent) Key() string { return a.endpoint.Key() }

// Invoke implements Agent.
func (a *LocalAgent) Invoke(ctx context.Context, prompt string, timeout time.Duration) (*InvokeResult, error) {
	if err := sanitizePrompt(prompt); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *InvokeResult
		err    error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		result, err := a.fn(ctx, prompt)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, aterrors.Wrap(aterrors.KindAgentTimeout, ctx.Err(), "local agent timed out")
	case out := <-done:
		if out.err != nil {
			return nil, aterrors.Wrap(aterrors.KindAgent, out.err, "local agent failed")
		}
		if out.result == nil {
			return nil, aterrors.New(aterrors.KindAgent, "local agent returned no result")
		}
		out.result.Duration = time.Since(start)
		truncateOutput(out.result)
		return out.result, nil
	}
}

// NewAgent builds the right invoker for an endpoint.
func NewAgent(endpoint AgentEndpoint, client *http.Client, locals *LocalAgentRegistry) (Agent, error) {
	switch endpoint.Kind {
	case EndpointHTTP:
		return NewHTTPAgent(endpoint, client), nil
	case EndpointLocal:
		return NewLocalAgent(endpoint, locals)
	default:
		return nil, aterrors.New(aterrors.KindValidation, "endpoint kind %q cannot execute", endpoint.Kind)
	}
}
