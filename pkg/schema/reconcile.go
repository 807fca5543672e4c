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
	"context"
	"fmt"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/prometheus/prompb"

	"github.com/taosdata/prometheus-storage-adapter/pkg/storage"
)

// MetricNameLabel is the privileged label whose value is the metric name.
const MetricNameLabel = "__name__"

// ErrMissingMetricName is a programming error: a TimeSeries reached the
// reconciler with no __name__ label.
var ErrMissingMetricName = fmt.Errorf("schema: time series has no %s label", MetricNameLabel)

// Reconciled is the outcome of a successful reconcile: the resolved names a
// caller needs to build the insert statement.
type Reconciled struct {
	StableName string // escaped super table name
	SubTable   string // md5_<...> sub table name
}

// Reconciler idempotently ensures the database, super
// table, tag columns, and sub table for one TimeSeries exist in storage
// before a sample is inserted for it.
type Reconciler struct {
	driver storage.Driver
	cache  *Cache
	logger log.Logger
}

// NewReconciler builds a Reconciler over driver, recording confirmed schema
// state in cache.
func NewReconciler(driver storage.Driver, cache *Cache, logger log.Logger) *Reconciler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Reconciler{driver: driver, cache: cache, logger: logger}
}

// Reconcile ensures db, the super table for ts's metric, every tag column
// named by ts's labels, and the sub table for ts's label set all exist.
func (r *Reconciler) Reconcile(ctx context.Context, db string, ts *prompb.TimeSeries) (*Reconciled, error) {
	metric, tags, err := partitionLabels(ts.Labels)
	if err != nil {
		return nil, err
	}

	stableName := TableNameEscape(metric)

	present, err := r.describeOrCreate(ctx, db, stableName, tags)
	if err != nil {
		return nil, err
	}

	if err := r.ensureTagColumns(ctx, db, stableName, tags, present); err != nil {
		return nil, err
	}

	subtable, taghash := r.names(metric, tags)
	if err := r.ensureSubtable(ctx, db, stableName, subtable, taghash, tags); err != nil {
		return nil, err
	}

	return &Reconciled{StableName: stableName, SubTable: subtable}, nil
}

// partitionLabels splits ts's labels into the metric name and the tag set.
func partitionLabels(labels []prompb.Label) (string, []Tag, error) {
	var metric string
	found := false
	tags := make([]Tag, 0, len(labels))
	for _, l := range labels {
		if l.Name == MetricNameLabel {
			metric = l.Value
			found = true
			continue
		}
		tags = append(tags, Tag{Name: TagNameEscape(l.Name), Value: l.Value})
	}
	if !found {
		return "", nil, ErrMissingMetricName
	}
	return metric, tags, nil
}

func (r *Reconciler) names(metric string, tags []Tag) (subtable, taghash string) {
	return SubTableName(metric, tags), TagHash(tags)
}

// describeOrCreate ensures the super table exists and returns its present
// column/tag set.
func (r *Reconciler) describeOrCreate(ctx context.Context, db, stableName string, tags []Tag) (map[string]struct{}, error) {
	cols, err := r.driver.Describe(ctx, db, stableName)
	if err == nil {
		return columnSet(cols), nil
	}

	serr, ok := asStorageError(err)
	if !ok {
		return nil, err
	}

	switch serr.Code {
	case storage.CodeInvalidTableName:
		if err := r.createStable(ctx, db, stableName, tags); err != nil {
			return nil, err
		}
	case storage.CodeDBNotSelected:
		if err := r.driver.Exec(ctx, fmt.Sprintf("create database if not exists %s", db)); err != nil {
			return nil, err
		}
		if err := r.createStable(ctx, db, stableName, tags); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	cols, err = r.driver.Describe(ctx, db, stableName)
	if err != nil {
		return nil, err
	}
	return columnSet(cols), nil
}

func (r *Reconciler) createStable(ctx context.Context, db, stableName string, tags []Tag) error {
	stmt := fmt.Sprintf("create stable if not exists %s.%s (ts timestamp, value double) tags (taghash binary(34)%s)",
		db, stableName, tagColumnDefs(tags))
	if err := r.driver.Exec(ctx, stmt); err != nil {
		return err
	}
	level.Debug(r.logger).Log("msg", "created super table", "db", db, "stable", stableName)
	return nil
}

func tagColumnDefs(tags []Tag) string {
	seen := map[string]struct{}{}
	var b []byte
	for _, t := range tags {
		col := TagColumn(t.Name)
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		b = append(b, fmt.Sprintf(", %s binary(128)", col)...)
	}
	return string(b)
}

func columnSet(cols []storage.Column) map[string]struct{} {
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c.Name] = struct{}{}
	}
	return set
}

// ensureTagColumns adds any tag column named by tags that is absent from
// present, tolerating "field already exists".
func (r *Reconciler) ensureTagColumns(ctx context.Context, db, stableName string, tags []Tag, present map[string]struct{}) error {
	known := r.cache.KnownTags(db, stableName)

	added := false
	for _, t := range tags {
		col := TagColumn(t.Name)
		if _, ok := present[col]; ok {
			continue
		}
		if _, ok := known[col]; ok {
			present[col] = struct{}{}
			continue
		}
		stmt := fmt.Sprintf("alter stable %s.%s add tag %s binary(128)", db, stableName, col)
		if err := r.driver.Exec(ctx, stmt); err != nil {
			serr, ok := asStorageError(err)
			if !ok || serr.Code != storage.CodeFieldAlreadyExists {
				return err
			}
			level.Debug(r.logger).Log("msg", "tag column already exists, concurrent add", "db", db, "stable", stableName, "tag", col)
		}
		present[col] = struct{}{}
		added = true
	}

	if added {
		// Re-describe after any schema mutation before trusting the column
		// set further: another writer may have added more columns concurrently.
		cols, err := r.driver.Describe(ctx, db, stableName)
		if err != nil {
			return err
		}
		for k := range present {
			delete(present, k)
		}
		for k := range columnSet(cols) {
			present[k] = struct{}{}
		}
	}

	for _, t := range tags {
		r.cache.AddTag(db, stableName, TagColumn(t.Name))
	}
	return nil
}

// ensureSubtable creates the sub table for this label set, tolerating "tag
// value too long".
func (r *Reconciler) ensureSubtable(ctx context.Context, db, stableName, subtable, taghash string, tags []Tag) error {
	if r.cache.HasSubtable(db, stableName, subtable) {
		return nil
	}

	sorted := make([]Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	cols := "taghash"
	vals := fmt.Sprintf(`"%s"`, TagValueEscape(taghash))
	seen := map[string]struct{}{}
	for _, t := range sorted {
		col := TagColumn(t.Name)
		if _, ok := seen[col]; ok {
			continue
		}
		seen[col] = struct{}{}
		cols += ", " + col
		if Truncated(t.Value) {
			level.Debug(r.logger).Log("msg", "tag value exceeds column width, truncating", "db", db, "subtable", subtable, "tag", col)
		}
		vals += fmt.Sprintf(`, "%s"`, TagValueEscape(t.Value))
	}

	stmt := fmt.Sprintf("create table if not exists %s.%s using %s.%s (%s) tags (%s)",
		db, subtable, db, stableName, cols, vals)

	if err := r.driver.Exec(ctx, stmt); err != nil {
		serr, ok := asStorageError(err)
		if ok && serr.Code == storage.CodeTagValueTooLong {
			// The sub table was not created, so it is not recorded in the cache.
			level.Info(r.logger).Log("msg", "tag value too long on sub-table create", "db", db, "subtable", subtable, "err", err)
			return nil
		}
		return err
	}

	r.cache.AddSubtable(db, stableName, subtable)
	return nil
}

func asStorageError(err error) (*storage.Error, bool) {
	serr, ok := err.(*storage.Error)
	return serr, ok
}
