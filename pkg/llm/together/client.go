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
// Package together provides an llm.Provider for Together AI's
// OpenAI-compatible completion endpoint.
package together

import (
	"context"
	"os"
	"time"

	"github.com/agenttrace/agenttrace/pkg/llm"
	"github.com/agenttrace/agenttrace/pkg/llm/openai"
)

// Default Together configuration values. Can be overridden via environment
// variables TOGETHER_DEFAULT_MODEL and TOGETHER_API_ENDPOINT.
const (
	DefaultModel    = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	DefaultEndpoint = "https://api.together.xyz/v1/chat/completions"
)

// Config holds configuration for the Together client.
type Config struct {
	APIKey      string
	Model       string // Default: meta-llama/Llama-3.3-70B-Instruct-Turbo
	Endpoint    string // Default: https://api.together.xyz/v1/chat/completions
	Timeout     time.Duration
	Temperature float64
}

// Client implements llm.Provider for Together AI. The wire format is
// OpenAI-compatible, so it delegates to the openai client with Together's
// endpoint and models.
type Client struct {
	inner *openai.Client
}

// NewClient creates a new Together client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("TOGETHER_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("TOGETHER_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	return &Client{
		inner: openai.NewClient(openai.Config{
			APIKey:      config.APIKey,
			Model:       config.Model,
			Endpoint:    config.Endpoint,
			Timeout:     config.Timeout,
			Temperature: config.Temperature,
		}),
	}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "together" }

// Model implements llm.Provider.
func (c *Client) Model() string { return c.inner.Model() }

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return c.inner.Complete(ctx, req)
}
