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

// Package read implements the read planner and read executor: translating
// a Prometheus read query into storage calls and regrouping the resulting
// rows back into TimeSeries.
package read

import (
	"fmt"
	"regexp"

	"github.com/prometheus/prometheus/prompb"

	"github.com/taosdata/prometheus-storage-adapter/pkg/schema"
)

// MetricFilterKind tags the four ways a query can select super tables.
type MetricFilterKind int

const (
	MetricEq MetricFilterKind = iota
	MetricNeq
	MetricRe
	MetricNre
)

// MetricFilter is the tagged variant over __name__ matchers.
type MetricFilter struct {
	Kind    MetricFilterKind
	Name    string         // set for Eq/Neq
	Pattern *regexp.Regexp // set for Re/Nre
}

// ResidualFilterKind distinguishes the two post-fetch regex filter kinds.
type ResidualFilterKind int

const (
	ResidualRe ResidualFilterKind = iota
	ResidualNre
)

// ResidualFilter is a regex applied to a row after fetch, keyed by the
// escaped label name (TagNameEscape output) in Plan's ResidualLabelFilters map.
type ResidualFilter struct {
	Kind    ResidualFilterKind
	Pattern *regexp.Regexp
}

// Plan is PlanQuery's output: what super tables to consider, the SQL WHERE
// clause to push down, and the regex filters that must run after fetch.
type Plan struct {
	MetricFilter         MetricFilter
	SQLCondition         string
	ResidualLabelFilters map[string]ResidualFilter
}

// Query planning errors.
var (
	ErrNoneTableName               = fmt.Errorf("read: query has no %s matcher", schema.MetricNameLabel)
	ErrUnknownMetricNameMatchType   = fmt.Errorf("read: %s matcher of type Eq with empty value", schema.MetricNameLabel)
)

// RegexCompileError wraps a matcher's pattern compile failure.
type RegexCompileError struct {
	MatcherName string
	Cause       error
}

func (e *RegexCompileError) Error() string {
	return fmt.Sprintf("read: compiling regex for matcher %q: %v", e.MatcherName, e.Cause)
}

func (e *RegexCompileError) Unwrap() error { return e.Cause }

// PlanQuery translates q's matchers into a MetricFilter, a SQL condition
// string, and a set of residual (post-fetch) label filters.
func PlanQuery(q *prompb.Query) (*Plan, error) {
	p := &Plan{ResidualLabelFilters: map[string]ResidualFilter{}}

	haveMetric := false
	terms := []string{
		fmt.Sprintf("ts >= %d", q.StartTimestampMs),
		fmt.Sprintf("ts <= %d", q.EndTimestampMs),
	}

	for _, m := range q.Matchers {
		if m.Name == schema.MetricNameLabel {
			mf, err := planMetricFilter(m)
			if err != nil {
				return nil, err
			}
			p.MetricFilter = mf
			haveMetric = true
			continue
		}

		term, residual, err := planTagMatcher(m)
		if err != nil {
			return nil, err
		}
		if residual != nil {
			p.ResidualLabelFilters[schema.TagNameEscape(m.Name)] = *residual
			continue
		}
		terms = append(terms, term)
	}

	if !haveMetric {
		return nil, ErrNoneTableName
	}

	p.SQLCondition = "where " + joinAnd(terms) + " order by ts"
	return p, nil
}

func planMetricFilter(m *prompb.LabelMatcher) (MetricFilter, error) {
	switch m.Type {
	case prompb.LabelMatcher_EQ:
		if m.Value == "" {
			return MetricFilter{}, ErrUnknownMetricNameMatchType
		}
		return MetricFilter{Kind: MetricEq, Name: m.Value}, nil
	case prompb.LabelMatcher_NEQ:
		return MetricFilter{Kind: MetricNeq, Name: m.Value}, nil
	// __name__ patterns are not anchored: they select every super table
	// whose name contains a match (so "stb" selects both stb1 and stb2).
	case prompb.LabelMatcher_RE:
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return MetricFilter{}, &RegexCompileError{MatcherName: m.Name, Cause: err}
		}
		return MetricFilter{Kind: MetricRe, Pattern: re}, nil
	case prompb.LabelMatcher_NRE:
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return MetricFilter{}, &RegexCompileError{MatcherName: m.Name, Cause: err}
		}
		return MetricFilter{Kind: MetricNre, Pattern: re}, nil
	default:
		return MetricFilter{}, fmt.Errorf("read: unsupported __name__ matcher type %v", m.Type)
	}
}

// planTagMatcher returns either a pushdown SQL term, or a residual filter
// to apply post-fetch.
func planTagMatcher(m *prompb.LabelMatcher) (term string, residual *ResidualFilter, err error) {
	col := schema.TagColumn(schema.TagNameEscape(m.Name))

	switch m.Type {
	case prompb.LabelMatcher_EQ:
		if m.Value == "" {
			return fmt.Sprintf("(%s = '' or %s is null)", col, col), nil, nil
		}
		return fmt.Sprintf(`%s = "%s"`, col, schema.QuoteEscape(m.Value)), nil, nil

	case prompb.LabelMatcher_NEQ:
		return fmt.Sprintf(`%s != "%s"`, col, schema.QuoteEscape(m.Value)), nil, nil

	case prompb.LabelMatcher_RE:
		re, cerr := compileAnchored(m.Value)
		if cerr != nil {
			return "", nil, &RegexCompileError{MatcherName: m.Name, Cause: cerr}
		}
		return "", &ResidualFilter{Kind: ResidualRe, Pattern: re}, nil

	case prompb.LabelMatcher_NRE:
		re, cerr := compileAnchored(m.Value)
		if cerr != nil {
			return "", nil, &RegexCompileError{MatcherName: m.Name, Cause: cerr}
		}
		return "", &ResidualFilter{Kind: ResidualNre, Pattern: re}, nil

	default:
		return "", nil, fmt.Errorf("read: unsupported matcher type %v for tag %q", m.Type, m.Name)
	}
}

// compileAnchored anchors a tag matcher's pattern the way Prometheus itself
// does (a bare Re/Nre pattern matches the whole value, not a substring).
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + pattern + ")$")
}

func joinAnd(terms []string) string {
	out := ""
	for i, t := range terms {
		if i > 0 {
			out += " and "
		}
		out += t
	}
	return out
}
