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
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agenttrace/agenttrace/pkg/llm"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey  string
	Model   string // Default: claude-sonnet-4-5-20250929
	BaseURL string // Default: SDK default
	Timeout time.Duration
}

// Client implements llm.Provider over the official Anthropic SDK.
type Client struct {
	client anthropicsdk.Client
	model  string
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithRequestTimeout(config.Timeout),
	}
	if config.APIKey != "" {
		opts = append(opts, option.WithAPIKey(config.APIKey))
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		client: anthropicsdk.NewClient(opts...),
		model:  config.Model,
	}
}

// Name implements llm.Provider.
func (c *Client) Name() string { return "anthropic" }

// Model implements llm.Provider.
func (c *Client) Model() string { return c.model }

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
