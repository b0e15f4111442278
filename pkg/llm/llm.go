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
// Package llm defines the provider abstraction used by the judge client.
// Concrete providers live in subpackages (anthropic, openai, together).
package llm

import (
	"context"
)

// Request is a single completion request.
type Request struct {
	// System is the system prompt; empty means provider default.
	System string
	// Prompt is the user message.
	Prompt string
	// MaxTokens caps the completion length; 0 means provider default.
	MaxTokens int
	// Temperature in [0,2]; negative means provider default.
	Temperature float64
}

// Usage is the token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a completed request.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Provider is a chat-completion backend.
type Provider interface {
	// Name identifies the provider ("anthropic", "openai", "together").
	Name() string
	// Model returns the configured model identifier.
	Model() string
	// Complete performs one completion.
	Complete(ctx context.Context, req Request) (*Response, error)
}
