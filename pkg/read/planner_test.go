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
	"strings"
	"testing"

	"github.com/prometheus/prometheus/prompb"
)

func TestPlanNoMetricNameMatcher(t *testing.T) {
	q := &prompb.Query{Matchers: []*prompb.LabelMatcher{{Type: prompb.LabelMatcher_EQ, Name: "host", Value: "a"}}}
	_, err := PlanQuery(q)
	if err != ErrNoneTableName {
		t.Fatalf("err = %v, want ErrNoneTableName", err)
	}
}

func TestPlanMetricEqEmptyValue(t *testing.T) {
	q := &prompb.Query{Matchers: []*prompb.LabelMatcher{{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: ""}}}
	_, err := PlanQuery(q)
	if err != ErrUnknownMetricNameMatchType {
		t.Fatalf("err = %v, want ErrUnknownMetricNameMatchType", err)
	}
}

func TestPlanMetricEq(t *testing.T) {
	q := &prompb.Query{
		StartTimestampMs: 0,
		EndTimestampMs:   2000,
		Matchers:         []*prompb.LabelMatcher{{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu"}},
	}
	p, err := PlanQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if p.MetricFilter.Kind != MetricEq || p.MetricFilter.Name != "cpu" {
		t.Fatalf("MetricFilter = %+v", p.MetricFilter)
	}
	if !strings.Contains(p.SQLCondition, "ts >= 0") || !strings.Contains(p.SQLCondition, "ts <= 2000") {
		t.Fatalf("SQLCondition = %q missing range bounds", p.SQLCondition)
	}
}

func TestPlanTagEqEmptyValue(t *testing.T) {
	q := &prompb.Query{Matchers: []*prompb.LabelMatcher{
		{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu"},
		{Type: prompb.LabelMatcher_EQ, Name: "host", Value: ""},
	}}
	p, err := PlanQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.SQLCondition, "t_host = '' or t_host is null") {
		t.Fatalf("SQLCondition = %q, want empty-tag clause", p.SQLCondition)
	}
}

func TestPlanRegexMatcherIsResidual(t *testing.T) {
	q := &prompb.Query{Matchers: []*prompb.LabelMatcher{
		{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "stb1"},
		{Type: prompb.LabelMatcher_RE, Name: "str1", Value: "^taos.*"},
	}}
	p, err := PlanQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	rf, ok := p.ResidualLabelFilters["str1"]
	if !ok {
		t.Fatal("expected residual filter for str1")
	}
	if rf.Kind != ResidualRe {
		t.Fatalf("Kind = %v, want ResidualRe", rf.Kind)
	}
	if strings.Contains(p.SQLCondition, "str1") {
		t.Fatalf("regex matcher should not be pushed to SQL: %q", p.SQLCondition)
	}
}

func TestPlanMetricRegexDiscovery(t *testing.T) {
	q := &prompb.Query{Matchers: []*prompb.LabelMatcher{
		{Type: prompb.LabelMatcher_RE, Name: "__name__", Value: "stb"},
	}}
	p, err := PlanQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if p.MetricFilter.Kind != MetricRe {
		t.Fatalf("Kind = %v, want MetricRe", p.MetricFilter.Kind)
	}
	if !p.MetricFilter.Pattern.MatchString("stb1") || !p.MetricFilter.Pattern.MatchString("stb2") {
		t.Fatal("pattern should match both stb1 and stb2")
	}
}

func TestPlanRegexCompileError(t *testing.T) {
	q := &prompb.Query{Matchers: []*prompb.LabelMatcher{
		{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu"},
		{Type: prompb.LabelMatcher_RE, Name: "host", Value: "("},
	}}
	_, err := PlanQuery(q)
	if _, ok := err.(*RegexCompileError); !ok {
		t.Fatalf("err = %v (%T), want *RegexCompileError", err, err)
	}
}
