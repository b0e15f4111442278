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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

func httpEndpoint(url string) AgentEndpoint {
	return AgentEndpoint{Kind: EndpointHTTP, URL: url}
}

func TestHTTPAgentInvoke(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrompt = body["prompt"]
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": "forty-two",
			"tool_calls": []map[string]any{
				{"name": "calculator", "result": "42", "duration_ms": 3},
			},
		})
	}))
	defer server.Close()

	agent := NewHTTPAgent(httpEndpoint(server.URL), server.Client())
	result, err := agent.Invoke(context.Background(), "what is 6*7", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "what is 6*7", gotPrompt)
	assert.Equal(t, "forty-two", result.Output)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "calculator", result.ToolCalls[0].Name)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestHTTPAgentAuthHeaders(t *testing.T) {
	var bearer, apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer = r.Header.Get("Authorization")
		apiKey = r.Header.Get("X-Agent-Key")
		_ = json.NewEncoder(w).Encode(map[string]string{"output": "ok"})
	}))
	defer server.Close()

	endpoint := httpEndpoint(server.URL)
	endpoint.Auth = &EndpointAuth{Scheme: AuthBearer, Token: "secret"}
	agent := NewHTTPAgent(endpoint, server.Client())
	_, err := agent.Invoke(context.Background(), "hi", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", bearer)

	endpoint.Auth = &EndpointAuth{Scheme: AuthAPIKey, Token: "key-123", Header: "X-Agent-Key"}
	agent = NewHTTPAgent(endpoint, server.Client())
	_, err = agent.Invoke(context.Background(), "hi", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "key-123", apiKey)
}

func TestHTTPAgentRejectsContractViolations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"answer": "missing output field"})
	}))
	defer server.Close()

	agent := NewHTTPAgent(httpEndpoint(server.URL), server.Client())
	_, err := agent.Invoke(context.Background(), "hi", time.Second)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindAgent))
	assert.Contains(t, err.Error(), "violates contract")
}

func TestHTTPAgentNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	agent := NewHTTPAgent(httpEndpoint(server.URL), server.Client())
	_, err := agent.Invoke(context.Background(), "hi", time.Second)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindAgent))
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPAgentTruncatesOversizedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"output": strings.Repeat("x", MaxOutputBytes+100),
		})
	}))
	defer server.Close()

	agent := NewHTTPAgent(httpEndpoint(server.URL), server.Client())
	result, err := agent.Invoke(context.Background(), "hi", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Output, MaxOutputBytes)
}

func TestHTTPAgentClassifiesTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	agent := NewHTTPAgent(httpEndpoint(server.URL), server.Client())
	_, err := agent.Invoke(context.Background(), "hi", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindAgentTimeout))
	assert.True(t, aterrors.Retryable(err))
}

func TestHTTPAgentClassifiesUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	agent := NewHTTPAgent(httpEndpoint(server.URL), nil)
	_, err := agent.Invoke(context.Background(), "hi", time.Second)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindAgentUnreachable))
	assert.True(t, aterrors.Retryable(err))
}

func TestLocalAgentInvoke(t *testing.T) {
	locals := testLocals()
	endpoint := AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "echo"}
	agent, err := NewLocalAgent(endpoint, locals)
	require.NoError(t, err)

	result, err := agent.Invoke(context.Background(), "echo me", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo me", result.Output)
}

func TestLocalAgentTimesOut(t *testing.T) {
	locals := NewLocalAgentRegistry()
	locals.Register("demo", "slow", func(ctx context.Context, prompt string) (*InvokeResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &InvokeResult{Output: "too late"}, nil
		}
	})

	agent, err := NewLocalAgent(AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "slow"}, locals)
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "hi", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindAgentTimeout))
}

func TestLocalAgentErrorsAreAgentKind(t *testing.T) {
	locals := NewLocalAgentRegistry()
	locals.Register("demo", "broken", func(ctx context.Context, prompt string) (*InvokeResult, error) {
		return nil, assert.AnError
	})

	agent, err := NewLocalAgent(AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "broken"}, locals)
	require.NoError(t, err)

	_, err = agent.Invoke(context.Background(), "hi", time.Second)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindAgent))
	assert.False(t, aterrors.Retryable(err))
}

func TestNewAgentDispatch(t *testing.T) {
	locals := testLocals()

	agent, err := NewAgent(AgentEndpoint{Kind: EndpointHTTP, URL: "https://a.example.com"}, nil, locals)
	require.NoError(t, err)
	assert.IsType(t, &HTTPAgent{}, agent)

	agent, err = NewAgent(AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "echo"}, nil, locals)
	require.NoError(t, err)
	assert.IsType(t, &LocalAgent{}, agent)

	_, err = NewAgent(AgentEndpoint{Kind: EndpointGRPC, URL: "grpc://a"}, nil, locals)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))

	_, err = NewAgent(AgentEndpoint{Kind: EndpointLocal, Module: "demo", Function: "missing"}, nil, locals)
	require.Error(t, err)
	assert.True(t, aterrors.IsKind(err, aterrors.KindNotFound))
}
