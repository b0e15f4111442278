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
	"sort"
	"strings"
	"sync"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// Registry holds evaluators keyed by "namespace.name". It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Key builds the registry key for a namespaced evaluator.
func Key(namespace, name string) string {
	return namespace + "." + name
}

// Register adds an evaluator under the given namespace. Registering a key
// twice is an error; use Replace for deliberate overrides.
func (r *Registry) Register(namespace string, e Evaluator) error {
	if namespace == "" || strings.Contains(namespace, ".") {
		return aterrors.New(aterrors.KindValidation, "invalid evaluator namespace %q", namespace)
	}
	if e == nil || e.Name() == "" {
		return aterrors.New(aterrors.KindValidation, "evaluator must have a name")
	}

	key := Key(namespace, e.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.evaluators[key]; exists {
		return aterrors.New(aterrors.KindValidation, "evaluator %s already registered", key)
	}
	r.evaluators[key] = e
	return nil
}

// Replace registers an evaluator, overwriting any existing registration.
func (r *Registry) Replace(namespace string, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[Key(namespace, e.Name())] = e
}

// Get returns the evaluator registered under key ("namespace.name").
func (r *Registry) Get(key string) (Evaluator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[key]
	if !ok {
		return nil, aterrors.New(aterrors.KindNotFound, "evaluator %s not registered", key)
	}
	return e, nil
}

// Namespace returns all evaluators in a namespace, sorted by key.
func (r *Registry) Namespace(namespace string) []Evaluator {
	prefix := namespace + "."
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []string
	for key := range r.evaluators {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]Evaluator, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.evaluators[key])
	}
	return out
}

// Keys returns all registered keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.evaluators))
	for key := range r.evaluators {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered evaluators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.evaluators)
}

var (
	defaultRegistry   *Registry
	defaultRegistryMu sync.Mutex
)

// DefaultRegistry returns the process-wide registry, creating it on first
// use.
func DefaultRegistry() *Registry {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// ResetDefaultRegistry discards the process-wide registry. Intended for
// tests.
func ResetDefaultRegistry() {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistry = nil
}

// Register adds an evaluator to the process-wide registry.
func Register(namespace string, e Evaluator) error {
	return DefaultRegistry().Register(namespace, e)
}

// MustRegister is Register that panics on error, for package init blocks.
func MustRegister(namespace string, e Evaluator) {
	if err := Register(namespace, e); err != nil {
		panic(fmt.Sprintf("evals: %v", err))
	}
}
