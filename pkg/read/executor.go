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

package read

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/prometheus/prompb"

	"github.com/taosdata/prometheus-storage-adapter/pkg/schema"
	"github.com/taosdata/prometheus-storage-adapter/pkg/storage"
)

// reservedColumns are never turned into labels.
var reservedColumns = map[string]struct{}{
	"ts":      {},
	"value":   {},
	"taghash": {},
}

// Executor resolves a MetricFilter to tables, runs per-table queries,
// applies residual filters, and regroups rows into TimeSeries.
type Executor struct {
	driver storage.Driver
}

// NewExecutor builds an Executor over driver.
func NewExecutor(driver storage.Driver) *Executor {
	return &Executor{driver: driver}
}

// Execute implements execute(db, ReadRequest) -> ReadResponse | Err.
func (e *Executor) Execute(ctx context.Context, db string, req *prompb.ReadRequest) (*prompb.ReadResponse, error) {
	resp := &prompb.ReadResponse{Results: make([]*prompb.QueryResult, len(req.Queries))}

	for i, q := range req.Queries {
		plan, err := PlanQuery(q)
		if err != nil {
			return nil, err
		}
		result, err := e.executeQuery(ctx, db, plan)
		if err != nil {
			return nil, err
		}
		resp.Results[i] = result
	}

	return resp, nil
}

func (e *Executor) executeQuery(ctx context.Context, db string, plan *Plan) (*prompb.QueryResult, error) {
	tables, err := e.resolveTables(ctx, db, plan.MetricFilter)
	if err != nil {
		return nil, err
	}

	result := &prompb.QueryResult{}
	var groupOrder []string
	groups := map[string]*prompb.TimeSeries{}

	for _, table := range tables {
		stmt := fmt.Sprintf("select * from %s.%s %s", db, table, plan.SQLCondition)
		rows, err := e.driver.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			if !passesResidualFilters(row, plan.ResidualLabelFilters) {
				continue
			}
			labels := rowLabels(table, row)
			key := labelsKey(labels)
			ts, ok := groups[key]
			if !ok {
				ts = &prompb.TimeSeries{Labels: labels}
				groups[key] = ts
				groupOrder = append(groupOrder, key)
			}
			ts.Samples = append(ts.Samples, rowSample(row))
		}
	}

	for _, key := range groupOrder {
		result.Timeseries = append(result.Timeseries, groups[key])
	}
	return result, nil
}

// resolveTables turns a MetricFilter into the list of super tables to scan.
func (e *Executor) resolveTables(ctx context.Context, db string, mf MetricFilter) ([]string, error) {
	if mf.Kind == MetricEq {
		return []string{mf.Name}, nil
	}

	all, err := e.driver.ShowStables(ctx, db)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range all {
		switch mf.Kind {
		case MetricNeq:
			if name != mf.Name {
				out = append(out, name)
			}
		case MetricRe:
			if mf.Pattern.MatchString(name) {
				out = append(out, name)
			}
		case MetricNre:
			if !mf.Pattern.MatchString(name) {
				out = append(out, name)
			}
		}
	}
	return out, nil
}

func passesResidualFilters(row storage.Row, filters map[string]ResidualFilter) bool {
	for tagName, f := range filters {
		col := schema.TagColumn(tagName)
		v, _ := row[col].(string)
		matched := f.Pattern.MatchString(v)
		switch f.Kind {
		case ResidualRe:
			if !matched {
				return false
			}
		case ResidualNre:
			if matched {
				return false
			}
		}
	}
	return true
}

// rowLabels builds the label list for row: __name__ first, then one label
// per non-reserved, non-NULL column. Tag labels
// are ordered by name so that rows sharing a label set always produce an
// identical, comparable label list regardless of the storage row's
// (map-typed, unordered) column iteration order.
func rowLabels(table string, row storage.Row) []prompb.Label {
	type kv struct{ name, value string }
	var tags []kv
	for col, v := range row {
		if _, reserved := reservedColumns[col]; reserved {
			continue
		}
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok || len(col) < 2 {
			continue
		}
		tags = append(tags, kv{name: col[2:], value: s}) // strip "t_"
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].name < tags[j].name })

	labels := make([]prompb.Label, 0, len(tags)+1)
	labels = append(labels, prompb.Label{Name: schema.MetricNameLabel, Value: table})
	for _, t := range tags {
		labels = append(labels, prompb.Label{Name: t.name, Value: t.value})
	}
	return labels
}

func rowSample(row storage.Row) prompb.Sample {
	s := prompb.Sample{Timestamp: row["ts"].(int64)}
	if v, ok := row["value"].(float64); ok {
		s.Value = v
	} else {
		s.Value = floatNaN()
	}
	return s
}

func floatNaN() float64 {
	var zero float64
	return zero / zero
}

// labelsKey renders labels as a grouping key; order matters (it is the
// same ordering rowLabels always produces for a given table+row shape, so
// two rows with the same full label set always compare equal).
func labelsKey(labels []prompb.Label) string {
	key := ""
	for _, l := range labels {
		key += l.Name + "=" + l.Value + "\xff"
	}
	return key
}
