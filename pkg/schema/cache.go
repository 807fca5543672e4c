// Copyright 2026 The Prometheus Storage Adapter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schema

import "sync"

// metricEntry tracks what the cache believes storage already holds for one
// metric: its tag columns and the sub tables created under it.
type metricEntry struct {
	tagColumns map[string]struct{}
	subtables  map[string]struct{}
}

func newMetricEntry() *metricEntry {
	return &metricEntry{
		tagColumns: map[string]struct{}{},
		subtables:  map[string]struct{}{},
	}
}

// Cache is the process-wide, concurrency-safe, advisory record of database →
// metric → {tag columns, sub tables}. It may
// under-report (forcing an extra describe) but must never over-report: an
// entry is only ever added after the caller's own successful storage
// round-trip confirmed it, never speculatively.
//
// The lock is never held across a storage call; callers do the I/O, then
// call one of the Add* methods to record the result.
type Cache struct {
	mtx sync.Mutex
	dbs map[string]map[string]*metricEntry
}

// NewCache returns an empty schema cache.
func NewCache() *Cache {
	return &Cache{dbs: map[string]map[string]*metricEntry{}}
}

// EnsureDatabase idempotently registers db in the cache.
func (c *Cache) EnsureDatabase(db string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.ensureDatabaseLocked(db)
}

func (c *Cache) ensureDatabaseLocked(db string) map[string]*metricEntry {
	m, ok := c.dbs[db]
	if !ok {
		m = map[string]*metricEntry{}
		c.dbs[db] = m
	}
	return m
}

func (c *Cache) ensureMetricLocked(db, metric string) *metricEntry {
	metrics := c.ensureDatabaseLocked(db)
	e, ok := metrics[metric]
	if !ok {
		e = newMetricEntry()
		metrics[metric] = e
	}
	return e
}

// AddTag records that tagColumn is now known to exist on metric in db.
// Called only after a successful create/describe/alter round-trip.
func (c *Cache) AddTag(db, metric, tagColumn string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e := c.ensureMetricLocked(db, metric)
	e.tagColumns[tagColumn] = struct{}{}
}

// HasSubtable reports whether sub table subtable is known to exist under
// metric in db.
func (c *Cache) HasSubtable(db, metric, subtable string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	metrics, ok := c.dbs[db]
	if !ok {
		return false
	}
	e, ok := metrics[metric]
	if !ok {
		return false
	}
	_, ok = e.subtables[subtable]
	return ok
}

// AddSubtable records that subtable is now known to exist under metric in
// db. Called only after a successful create-table round-trip.
func (c *Cache) AddSubtable(db, metric, subtable string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e := c.ensureMetricLocked(db, metric)
	e.subtables[subtable] = struct{}{}
}

// KnownTags returns a snapshot of every tag column cached for metric in db.
func (c *Cache) KnownTags(db, metric string) map[string]struct{} {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := map[string]struct{}{}
	metrics, ok := c.dbs[db]
	if !ok {
		return out
	}
	e, ok := metrics[metric]
	if !ok {
		return out
	}
	for k := range e.tagColumns {
		out[k] = struct{}{}
	}
	return out
}
