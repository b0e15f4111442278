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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSuite = `
name: nightly
description: nightly quality gate
evaluators:
  - builtin.completeness
  - quality.helpfulness
required:
  - completeness
weights:
  completeness: 2.0
  helpfulness: 1.0
baseline_threshold: 0.1
max_concurrency: 8
timeout_seconds: 90
continue_on_error: true
judges:
  - name: helpfulness
    criteria: Did the agent answer the user's question?
    threshold: 0.7
`

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSuite(t *testing.T) {
	suite, err := LoadSuite(writeSuite(t, sampleSuite))
	require.NoError(t, err)

	assert.Equal(t, "nightly", suite.Name)
	assert.Equal(t, []string{"builtin.completeness", "quality.helpfulness"}, suite.Evaluators)
	assert.InDelta(t, 2.0, suite.Weights["completeness"], 1e-9)

	cfg := suite.RunnerConfig()
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, []string{"completeness"}, cfg.RequiredEvaluators)
	assert.True(t, cfg.ContinueOnError)

	require.Len(t, suite.Judges, 1)
	require.NotNil(t, suite.Judges[0].Threshold)
	assert.InDelta(t, 0.7, *suite.Judges[0].Threshold, 1e-9)
}

func TestLoadSuiteExpandsEnv(t *testing.T) {
	t.Setenv("SUITE_NAME", "from-env")
	suite, err := LoadSuite(writeSuite(t, "name: ${SUITE_NAME}\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", suite.Name)
}

func TestSuiteValidation(t *testing.T) {
	_, err := LoadSuite(writeSuite(t, "description: no name\n"))
	require.Error(t, err)

	_, err = LoadSuite(writeSuite(t, "name: s\nweights:\n  a: -1\n"))
	require.Error(t, err)

	_, err = LoadSuite(writeSuite(t, "name: s\njudges:\n  - name: j\n    criteria: c\n    threshold: 1.5\n"))
	require.Error(t, err)

	_, err = LoadSuite(writeSuite(t, "name: s\njudges:\n  - criteria: c\n"))
	require.Error(t, err)
}

func TestSuiteResolveEvaluators(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("q", named("a")))

	suite := &Suite{Name: "s", Evaluators: []string{"q.a"}}
	evaluators, err := suite.ResolveEvaluators(r)
	require.NoError(t, err)
	require.Len(t, evaluators, 1)

	suite.Evaluators = []string{"q.missing"}
	_, err = suite.ResolveEvaluators(r)
	require.Error(t, err)

	suite.Evaluators = nil
	evaluators, err = suite.ResolveEvaluators(r)
	require.NoError(t, err)
	assert.Nil(t, evaluators, "empty key list means run everything")
}
