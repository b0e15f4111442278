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
package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKnownProviders(t *testing.T) {
	for _, name := range []string{"anthropic", "openai", "together"} {
		p, err := New(Config{Provider: name, APIKey: "k"})
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())
		assert.NotEmpty(t, p.Model())
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "parrot"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parrot")
}

func TestNewAppliesModelOverride(t *testing.T) {
	p, err := New(Config{Provider: "openai", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.Model())
}
