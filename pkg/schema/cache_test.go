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

import (
	"sync"
	"testing"
)

func hasTag(c *Cache, db, metric, tagColumn string) bool {
	_, ok := c.KnownTags(db, metric)[tagColumn]
	return ok
}

func TestCacheUnderReportsUntilConfirmed(t *testing.T) {
	c := NewCache()
	if hasTag(c, "db", "cpu", "t_host") {
		t.Fatal("tag known before any AddTag call")
	}
	c.AddTag("db", "cpu", "t_host")
	if !hasTag(c, "db", "cpu", "t_host") {
		t.Fatal("tag not known after AddTag")
	}
}

func TestCacheSubtablePresence(t *testing.T) {
	c := NewCache()
	if c.HasSubtable("db", "cpu", "md5_abc") {
		t.Fatal("HasSubtable true before AddSubtable")
	}
	c.AddSubtable("db", "cpu", "md5_abc")
	if !c.HasSubtable("db", "cpu", "md5_abc") {
		t.Fatal("HasSubtable false after AddSubtable")
	}
	if c.HasSubtable("db", "cpu", "md5_other") {
		t.Fatal("HasSubtable true for an unrelated subtable name")
	}
}

func TestCacheIsolatedAcrossDatabasesAndMetrics(t *testing.T) {
	c := NewCache()
	c.AddTag("db1", "cpu", "t_host")
	if hasTag(c, "db2", "cpu", "t_host") {
		t.Fatal("tag leaked across databases")
	}
	if hasTag(c, "db1", "mem", "t_host") {
		t.Fatal("tag leaked across metrics")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.AddTag("db", "cpu", "t_host")
			hasTag(c, "db", "cpu", "t_host")
			c.AddSubtable("db", "cpu", "md5_x")
		}(i)
	}
	wg.Wait()
	if !hasTag(c, "db", "cpu", "t_host") {
		t.Fatal("tag missing after concurrent writers")
	}
}

func TestKnownTagsSnapshotIndependentOfCache(t *testing.T) {
	c := NewCache()
	c.AddTag("db", "cpu", "t_host")
	snap := c.KnownTags("db", "cpu")
	c.AddTag("db", "cpu", "t_zone")
	if _, ok := snap["t_zone"]; ok {
		t.Fatal("snapshot mutated by later cache write")
	}
	if _, ok := snap["t_host"]; !ok {
		t.Fatal("snapshot missing tag present at capture time")
	}
}
