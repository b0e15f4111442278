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
package evals

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Suite is a declarative evaluation configuration loaded from YAML: which
// evaluators to run, how to weight them, and what the runner allows.
type Suite struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Evaluators are registry keys ("namespace.name"). Empty runs all.
	Evaluators []string `yaml:"evaluators"`
	// Required lists evaluator names that must pass for a trace to pass.
	Required []string `yaml:"required"`
	// Weights maps evaluator name to its composite weight (default 1.0).
	Weights map[string]float64 `yaml:"weights"`

	// BaselineThreshold is the relative change band for regression
	// classification when comparing against a stored baseline.
	BaselineThreshold float64 `yaml:"baseline_threshold"`

	MaxConcurrency  int  `yaml:"max_concurrency"`
	TimeoutSeconds  int  `yaml:"timeout_seconds"`
	ContinueOnError bool `yaml:"continue_on_error"`

	// Judges declares judge-backed evaluators built at load time by the
	// caller that owns a judge client.
	Judges []SuiteJudge `yaml:"judges"`
}

// SuiteJudge declares one rubric for a judge-backed evaluator.
type SuiteJudge struct {
	Name      string   `yaml:"name"`
	Criteria  string   `yaml:"criteria"`
	Threshold *float64 `yaml:"threshold"`
}

// LoadSuite reads and validates a suite definition. Environment variables
// in the file are expanded before parsing.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite file %s: %w", path, err)
	}

	var suite Suite
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &suite); err != nil {
		return nil, fmt.Errorf("parse suite file %s: %w", path, err)
	}
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	return &suite, nil
}

// Validate checks the suite for contradictions before anything runs.
func (s *Suite) Validate() error {
	if s.Name == "" {
		return aterrors.New(aterrors.KindValidation, "suite must have a name")
	}
	for name, w := range s.Weights {
		if w <= 0 {
			return aterrors.New(aterrors.KindValidation, "suite %s: weight for %s must be positive", s.Name, name)
		}
	}
	for _, j := range s.Judges {
		if j.Name == "" || j.Criteria == "" {
			return aterrors.New(aterrors.KindValidation, "suite %s: judges need a name and criteria", s.Name)
		}
		if j.Threshold != nil && (*j.Threshold < 0 || *j.Threshold > 1) {
			return aterrors.New(aterrors.KindValidation, "suite %s: judge %s threshold outside [0,1]", s.Name, j.Name)
		}
	}
	return nil
}

// RunnerConfig converts the suite's scheduling fields into runner
// configuration.
func (s *Suite) RunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxConcurrency:     s.MaxConcurrency,
		TimeoutPerTrace:    time.Duration(s.TimeoutSeconds) * time.Second,
		ContinueOnError:    s.ContinueOnError,
		RequiredEvaluators: s.Required,
		ScoreWeights:       s.Weights,
	}
}

// ResolveEvaluators looks the suite's evaluator keys up in the registry.
// An empty key list means every registered evaluator.
func (s *Suite) ResolveEvaluators(r *Registry) ([]Evaluator, error) {
	if len(s.Evaluators) == 0 {
		return nil, nil
	}
	out := make([]Evaluator, 0, len(s.Evaluators))
	for _, key := range s.Evaluators {
		e, err := r.Get(key)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
