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
package judge

import (
	"sync"
	"time"
)

// verdictCache is an in-memory TTL cache of parsed verdicts. Expired
// entries are dropped lazily on read and swept opportunistically on write.
type verdictCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

func newVerdictCache(ttl time.Duration) *verdictCache {
	return &verdictCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *verdictCache) get(key string) (*Verdict, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	v := entry.verdict
	return &v, true
}

func (c *verdictCache) put(key string, v *Verdict) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	// Sweep a few expired entries so the map does not grow unbounded
	// under a churning key set.
	swept := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			swept++
			if swept == 32 {
				break
			}
		}
	}

	c.entries[key] = cacheEntry{verdict: *v, expiresAt: now.Add(c.ttl)}
}

func (c *verdictCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
