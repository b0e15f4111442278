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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
	"github.com/agenttrace/agenttrace/pkg/trace"
)

func named(name string) Evaluator {
	return &stubEvaluator{name: name, fn: func(context.Context, *trace.Trace) (*Result, error) {
		return NewResult(name).Finish(), nil
	}}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("quality", named("helpfulness")))

	e, err := r.Get("quality.helpfulness")
	require.NoError(t, err)
	assert.Equal(t, "helpfulness", e.Name())

	_, err = r.Get("quality.missing")
	assert.True(t, aterrors.IsKind(err, aterrors.KindNotFound))
}

func TestRegistryRejectsDuplicatesAndBadNamespaces(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("q", named("a")))

	err := r.Register("q", named("a"))
	assert.True(t, aterrors.IsKind(err, aterrors.KindValidation))

	assert.Error(t, r.Register("", named("a")))
	assert.Error(t, r.Register("has.dot", named("a")))
	assert.Error(t, r.Register("q", nil))
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("q", named("a")))
	r.Replace("q", named("a"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryNamespaceListing(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("quality", named("b")))
	require.NoError(t, r.Register("quality", named("a")))
	require.NoError(t, r.Register("safety", named("c")))

	quality := r.Namespace("quality")
	require.Len(t, quality, 2)
	assert.Equal(t, "a", quality[0].Name())
	assert.Equal(t, "b", quality[1].Name())

	assert.Equal(t, []string{"quality.a", "quality.b", "safety.c"}, r.Keys())
}

func TestDefaultRegistryReset(t *testing.T) {
	ResetDefaultRegistry()
	t.Cleanup(ResetDefaultRegistry)

	require.NoError(t, Register("test", named("x")))
	assert.Equal(t, 1, DefaultRegistry().Len())

	ResetDefaultRegistry()
	assert.Equal(t, 0, DefaultRegistry().Len())
}
