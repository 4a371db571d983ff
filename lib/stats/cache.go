/*
 * Hivepot
 * Copyright (C) 2024  Hivepot Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package stats

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ttlCache memoizes computed responses per key with a TTL. Concurrent
// callers of the same key single-flight: the first holds the entry lock
// through the computation, the rest get the fresh value. The key space
// is tiny (endpoint x four hour values) so entries are never evicted.
type ttlCache struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	mu      sync.Mutex
	value   any
	expires time.Time
}

func newTTLCache(clock clockwork.Clock) *ttlCache {
	return &ttlCache{
		clock:   clock,
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached value for key, computing it when missing or
// expired. A compute error is returned without poisoning the cache.
func (c *ttlCache) Get(key string, ttl time.Duration, compute func() (any, error)) (any, error) {
	c.mu.Lock()
	ent, ok := c.entries[key]
	if !ok {
		ent = &cacheEntry{}
		c.entries[key] = ent
	}
	c.mu.Unlock()

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.value != nil && c.clock.Now().Before(ent.expires) {
		return ent.value, nil
	}
	value, err := compute()
	if err != nil {
		return nil, err
	}
	ent.value = value
	ent.expires = c.clock.Now().Add(ttl)
	return value, nil
}
