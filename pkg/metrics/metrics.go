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

// Package metrics defines the adapter's own self-observability counters
// and histograms, registered against a prometheus.Registerer the same way
// package-level prometheus.New*/MustRegister calls, grouped by the
// subsystem they instrument.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// HTTP holds the HTTP-layer request counters and latency histograms.
type HTTP struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	FailedWritesPersisted prometheus.Counter
}

// NewHTTP registers and returns a fresh HTTP metrics set.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	m := &HTTP{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promadapter_http_requests_total",
			Help: "Number of HTTP requests handled, by route and status code.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promadapter_http_request_duration_seconds",
			Help:    "HTTP request handling latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promadapter_write_retries_total",
			Help: "Number of outer-loop retries attempted for a write request.",
		}, []string{"route"}),
		FailedWritesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promadapter_failed_writes_persisted_total",
			Help: "Number of write request bodies persisted to disk after retry exhaustion.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.RetriesTotal, m.FailedWritesPersisted)
	}
	return m
}
