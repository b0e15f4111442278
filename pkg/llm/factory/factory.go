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
// Package factory constructs llm.Provider instances from configuration.
package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/agenttrace/agenttrace/pkg/llm"
	"github.com/agenttrace/agenttrace/pkg/llm/anthropic"
	"github.com/agenttrace/agenttrace/pkg/llm/openai"
	"github.com/agenttrace/agenttrace/pkg/llm/together"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is "anthropic", "openai", or "together".
	Provider string
	// APIKey falls back to the provider's conventional environment
	// variable when empty.
	APIKey      string
	Model       string
	Endpoint    string
	Timeout     time.Duration
	Temperature float64
}

// New constructs the configured provider.
func New(config Config) (llm.Provider, error) {
	switch config.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  keyOr(config.APIKey, "ANTHROPIC_API_KEY"),
			Model:   config.Model,
			BaseURL: config.Endpoint,
			Timeout: config.Timeout,
		}), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      keyOr(config.APIKey, "OPENAI_API_KEY"),
			Model:       config.Model,
			Endpoint:    config.Endpoint,
			Timeout:     config.Timeout,
			Temperature: config.Temperature,
		}), nil
	case "together":
		return together.NewClient(together.Config{
			APIKey:      keyOr(config.APIKey, "TOGETHER_API_KEY"),
			Model:       config.Model,
			Endpoint:    config.Endpoint,
			Timeout:     config.Timeout,
			Temperature: config.Temperature,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic, openai, or together)", config.Provider)
	}
}

func keyOr(key, env string) string {
	if key != "" {
		return key
	}
	return os.Getenv(env)
}
