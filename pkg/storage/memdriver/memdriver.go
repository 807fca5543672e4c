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

// Package memdriver is an in-memory fake of storage.Driver used by this
// repository's test suite. It is not a production storage backend: the
// storage collaborator is specified purely as an interface (see
// pkg/storage/driver.go), and exercised here by a fake that implements the
// SQL-statement subset the rest of this repository emits.
package memdriver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/taosdata/prometheus-storage-adapter/pkg/storage"
)

type column struct {
	name  string
	isTag bool
}

type stable struct {
	columns []column // fixed: ts, value
	tags    []column // taghash + t_*
}

type row struct {
	ts     int64
	value  *float64
	tags   map[string]string // tag column -> value, including taghash
}

type table struct {
	stableName string
	rows       []row
}

type database struct {
	stables map[string]*stable
	tables  map[string]*table // sub-table name -> table
}

// Driver is the in-memory fake. Zero value is not usable; use New.
type Driver struct {
	mtx             sync.Mutex
	dbs             map[string]*database
	maxTagValueLen  int
	execLog         []string
	failNextTagLong bool
}

// New returns an empty fake driver. maxTagValueLen mirrors the storage's
// tag column width (128 in production; tests may shrink it to exercise the
// "tag value too long" path without 127-byte fixtures).
func New(maxTagValueLen int) *Driver {
	return &Driver{
		dbs:            map[string]*database{},
		maxTagValueLen: maxTagValueLen,
	}
}

// ExecLog returns every statement submitted via Exec, in order, for tests
// that assert on chunking/retry behavior.
func (d *Driver) ExecLog() []string {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	out := make([]string, len(d.execLog))
	copy(out, d.execLog)
	return out
}

var (
	createDBRe     = regexp.MustCompile(`(?i)^create database if not exists (\S+)$`)
	createStableRe = regexp.MustCompile(`(?i)^create stable if not exists (\S+)\.(\S+) \(ts timestamp, value double\) tags \((.+)\)$`)
	alterTagRe     = regexp.MustCompile(`(?i)^alter stable (\S+)\.(\S+) add tag (\S+) binary\(\d+\)$`)
	createTableRe  = regexp.MustCompile(`(?i)^create table if not exists (\S+)\.(\S+) using (\S+)\.(\S+) \((.+)\) tags \((.+)\)$`)
	insertFragRe   = regexp.MustCompile(`(\S+)\.(\S+) values \(([^,]+), (NULL|[-\d.eE+]+)\)`)
)

// Exec submits a DDL/DML statement.
func (d *Driver) Exec(_ context.Context, stmt string) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.execLog = append(d.execLog, stmt)

	switch {
	case createDBRe.MatchString(stmt):
		m := createDBRe.FindStringSubmatch(stmt)
		d.ensureDB(m[1])
		return nil

	case createStableRe.MatchString(stmt):
		m := createStableRe.FindStringSubmatch(stmt)
		db := d.ensureDB(m[1])
		name := m[2]
		if _, ok := db.stables[name]; ok {
			return nil // idempotent
		}
		db.stables[name] = &stable{
			columns: []column{{name: "ts"}, {name: "value"}},
			tags:    parseTagDefs(m[3]),
		}
		return nil

	case alterTagRe.MatchString(stmt):
		m := alterTagRe.FindStringSubmatch(stmt)
		db, ok := d.dbs[m[1]]
		if !ok {
			return &storage.Error{Code: storage.CodeDBNotSelected, Message: "db not selected"}
		}
		st, ok := db.stables[m[2]]
		if !ok {
			return &storage.Error{Code: storage.CodeInvalidTableName, Message: "invalid table name"}
		}
		tagName := m[3]
		for _, c := range st.tags {
			if c.name == tagName {
				return &storage.Error{Code: storage.CodeFieldAlreadyExists, Message: "field already exists"}
			}
		}
		st.tags = append(st.tags, column{name: tagName, isTag: true})
		return nil

	case createTableRe.MatchString(stmt):
		m := createTableRe.FindStringSubmatch(stmt)
		db, ok := d.dbs[m[1]]
		if !ok {
			return &storage.Error{Code: storage.CodeDBNotSelected, Message: "db not selected"}
		}
		subtable, stableDB, stableName := m[2], m[3], m[4]
		_ = stableDB
		if _, ok := db.stables[stableName]; !ok {
			return &storage.Error{Code: storage.CodeInvalidTableName, Message: "invalid table name"}
		}
		cols := splitCSV(m[5])
		vals := splitQuotedCSV(m[6])
		for _, v := range vals {
			if len(v) > d.maxTagValueLen {
				return &storage.Error{Code: storage.CodeTagValueTooLong, Message: "tag value too long"}
			}
		}
		if _, ok := db.tables[subtable]; ok {
			return nil // idempotent
		}
		tags := map[string]string{}
		for i, c := range cols {
			if i < len(vals) {
				tags[c] = vals[i]
			}
		}
		db.tables[subtable] = &table{stableName: stableName}
		// stash tag values on the table's synthetic "schema row" so Query
		// can project them back without re-parsing per insert.
		db.tables[subtable].rows = append(db.tables[subtable].rows, row{tags: tags, value: nil, ts: -1})
		return nil

	default:
		return d.execInsert(stmt)
	}
}

func (d *Driver) execInsert(stmt string) error {
	matches := insertFragRe.FindAllStringSubmatch(stmt, -1)
	if len(matches) == 0 {
		return fmt.Errorf("memdriver: unrecognized statement: %s", stmt)
	}
	for _, m := range matches {
		dbName, tbl, tsStr, valStr := m[1], m[2], m[3], m[4]
		db, ok := d.dbs[dbName]
		if !ok {
			return &storage.Error{Code: storage.CodeDBNotSelected, Message: "db not selected"}
		}
		t, ok := db.tables[tbl]
		if !ok {
			return &storage.Error{Code: storage.CodeInvalidTableName, Message: "invalid table name"}
		}
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return fmt.Errorf("memdriver: bad timestamp %q: %w", tsStr, err)
		}
		var val *float64
		if valStr != "NULL" {
			f, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return fmt.Errorf("memdriver: bad value %q: %w", valStr, err)
			}
			val = &f
		}
		t.rows = append(t.rows, row{ts: ts, value: val, tags: schemaTagsOf(t)})
	}
	return nil
}

func schemaTagsOf(t *table) map[string]string {
	for _, r := range t.rows {
		if r.ts == -1 {
			return r.tags
		}
	}
	return nil
}

func (d *Driver) ensureDB(name string) *database {
	db, ok := d.dbs[name]
	if !ok {
		db = &database{stables: map[string]*stable{}, tables: map[string]*table{}}
		d.dbs[name] = db
	}
	return db
}

// Describe returns the column/tag set of a super table.
func (d *Driver) Describe(_ context.Context, dbName, stableName string) ([]storage.Column, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	db, ok := d.dbs[dbName]
	if !ok {
		return nil, &storage.Error{Code: storage.CodeDBNotSelected, Message: "db not selected"}
	}
	st, ok := db.stables[stableName]
	if !ok {
		return nil, &storage.Error{Code: storage.CodeInvalidTableName, Message: "invalid table name"}
	}
	var out []storage.Column
	for _, c := range st.columns {
		out = append(out, storage.Column{Name: c.name})
	}
	for _, c := range st.tags {
		out = append(out, storage.Column{Name: c.name, IsTag: true})
	}
	return out, nil
}

// ShowStables lists every super table in dbName.
func (d *Driver) ShowStables(_ context.Context, dbName string) ([]string, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	db, ok := d.dbs[dbName]
	if !ok {
		return nil, &storage.Error{Code: storage.CodeDBNotSelected, Message: "db not selected"}
	}
	var names []string
	for n := range db.stables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Query runs a constrained "select * from db.table where ts >= a and ts <=
// b [and <tag conditions>] order by ts" against the in-memory rows.
func (d *Driver) Query(_ context.Context, stmt string) ([]storage.Row, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	q, err := parseSelect(stmt)
	if err != nil {
		return nil, err
	}
	db, ok := d.dbs[q.db]
	if !ok {
		return nil, &storage.Error{Code: storage.CodeDBNotSelected, Message: "db not selected"}
	}

	// A query against a super table name aggregates rows from every sub
	// table created under it (each row keeps its own sub table's tag
	// values), exactly as "select * from <db>.<stable>" does against the
	// real storage dialect. A query against a sub table name directly
	// (not used by the executor today, but a valid statement) returns
	// just that one table's rows.
	var tables []*table
	if _, isStable := db.stables[q.table]; isStable {
		for _, t := range db.tables {
			if t.stableName == q.table {
				tables = append(tables, t)
			}
		}
	} else if t, ok := db.tables[q.table]; ok {
		tables = append(tables, t)
	} else {
		return nil, &storage.Error{Code: storage.CodeInvalidTableName, Message: "invalid table name"}
	}

	var out []storage.Row
	for _, t := range tables {
		for _, r := range t.rows {
			if r.ts == -1 {
				continue // synthetic schema row
			}
			if r.ts < q.startMs || r.ts > q.endMs {
				continue
			}
			if !q.matchesTags(r.tags) {
				continue
			}
			rowOut := storage.Row{"ts": r.ts}
			if r.value == nil {
				rowOut["value"] = nil
			} else {
				rowOut["value"] = *r.value
			}
			for k, v := range r.tags {
				rowOut[k] = v
			}
			out = append(out, rowOut)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["ts"].(int64) < out[j]["ts"].(int64)
	})
	return out, nil
}

// Close is a no-op for the fake.
func (d *Driver) Close() error { return nil }

func parseTagDefs(s string) []column {
	// "taghash binary(34), t_host binary(128), t_zone binary(128)"
	var cols []column
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		cols = append(cols, column{name: fields[0], isTag: true})
	}
	return cols
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func splitQuotedCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, `"`)
		p = strings.TrimSuffix(p, `"`)
		out = append(out, p)
	}
	return out
}

type selectQuery struct {
	db, table        string
	startMs, endMs   int64
	tagEq, tagNeq    map[string]string
}

func (q *selectQuery) matchesTags(tags map[string]string) bool {
	for k, v := range q.tagEq {
		got, ok := tags[k]
		if v == "" {
			if ok && got != "" {
				return false
			}
			continue
		}
		if !ok || got != v {
			return false
		}
	}
	for k, v := range q.tagNeq {
		if got, ok := tags[k]; ok && got == v {
			return false
		}
	}
	return true
}

var (
	selectRe  = regexp.MustCompile(`(?i)^select \* from (\S+)\.(\S+) where (.+) order by ts$`)
	tsGteRe   = regexp.MustCompile(`ts >= (\d+)`)
	tsLteRe   = regexp.MustCompile(`ts <= (\d+)`)
	tagEqRe   = regexp.MustCompile(`(\S+) = "([^"]*)"`)
	tagNeqRe  = regexp.MustCompile(`(\S+) != "([^"]*)"`)
	tagNullRe = regexp.MustCompile(`\((\S+) = '' or \S+ is null\)`)
)

func parseSelect(stmt string) (*selectQuery, error) {
	m := selectRe.FindStringSubmatch(stmt)
	if m == nil {
		return nil, fmt.Errorf("memdriver: unrecognized query: %s", stmt)
	}
	q := &selectQuery{db: m[1], table: m[2], tagEq: map[string]string{}, tagNeq: map[string]string{}}

	cond := m[3]
	if gm := tsGteRe.FindStringSubmatch(cond); gm != nil {
		q.startMs, _ = strconv.ParseInt(gm[1], 10, 64)
	}
	if lm := tsLteRe.FindStringSubmatch(cond); lm != nil {
		q.endMs, _ = strconv.ParseInt(lm[1], 10, 64)
	}
	for _, em := range tagEqRe.FindAllStringSubmatch(cond, -1) {
		q.tagEq[em[1]] = em[2]
	}
	for _, nm := range tagNullRe.FindAllStringSubmatch(cond, -1) {
		q.tagEq[nm[1]] = ""
	}
	for _, nm := range tagNeqRe.FindAllStringSubmatch(cond, -1) {
		q.tagNeq[nm[1]] = nm[2]
	}
	return q, nil
}
