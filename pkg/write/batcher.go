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

// Package write implements the write batcher: formatting sample
// inserts, chunking them, submitting them to storage, and reconciling
// schema on demand when a chunk fails for a schema-related reason.
package write

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"

	"github.com/taosdata/prometheus-storage-adapter/pkg/schema"
	"github.com/taosdata/prometheus-storage-adapter/pkg/storage"
)

const defaultChunkSize = 600

// Metrics are the prometheus.Collector-registered counters the batcher
// updates.
type Metrics struct {
	ChunksSubmitted  prometheus.Counter
	ChunksReconciled prometheus.Counter
	ChunksFailed     prometheus.Counter
	SamplesWritten   prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promadapter_write_chunks_submitted_total",
			Help: "Number of insert-statement chunks submitted to storage.",
		}),
		ChunksReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promadapter_write_chunks_reconciled_total",
			Help: "Number of chunks that required a reconcile+retry after a schema error.",
		}),
		ChunksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promadapter_write_chunks_failed_total",
			Help: "Number of chunks abandoned after a non-schema storage error.",
		}),
		SamplesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promadapter_write_samples_total",
			Help: "Number of samples successfully written.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ChunksSubmitted, m.ChunksReconciled, m.ChunksFailed, m.SamplesWritten)
	}
	return m
}

// Batcher implements write(db, WriteRequest) -> Ok | Err.
type Batcher struct {
	driver    storage.Driver
	cache     *schema.Cache
	logger    log.Logger
	chunkSize int
	metrics   *Metrics
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithChunkSize overrides the default chunk size of 600 fragments.
func WithChunkSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// WithMetrics attaches a Metrics set; if omitted, an unregistered Metrics
// is created so callers never nil-check.
func WithMetrics(m *Metrics) Option {
	return func(b *Batcher) { b.metrics = m }
}

// NewBatcher builds a Batcher over driver and cache.
func NewBatcher(driver storage.Driver, cache *schema.Cache, logger log.Logger, opts ...Option) *Batcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	b := &Batcher{
		driver:    driver,
		cache:     cache,
		logger:    logger,
		chunkSize: defaultChunkSize,
		metrics:   NewMetrics(nil),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// fragment is one "<db>.<subtable> values (<ts>, <value>)" piece.
type fragment struct {
	db, subtable string
	ts           int64
	value        *float64
}

func (f fragment) render() string {
	v := "NULL"
	if f.value != nil {
		v = strconv.FormatFloat(*f.value, 'g', -1, 64)
	}
	return fmt.Sprintf("%s.%s values (%d, %s)", f.db, f.subtable, f.ts, v)
}

// Write reconciles schema lazily and inserts every sample in req against db.
func (b *Batcher) Write(ctx context.Context, db string, req *prompb.WriteRequest) error {
	b.cache.EnsureDatabase(db)
	reconciler := schema.NewReconciler(b.driver, b.cache, b.logger)

	resolved := make([]*schema.Reconciled, len(req.Timeseries))
	fragments := make([]fragment, 0)

	for i, ts := range req.Timeseries {
		r, err := reconciler.Reconcile(ctx, db, ts)
		if err != nil {
			return fmt.Errorf("write: reconcile series %d: %w", i, err)
		}
		resolved[i] = r
		for _, s := range ts.Samples {
			fragments = append(fragments, fragment{
				db:       db,
				subtable: r.SubTable,
				ts:       s.Timestamp,
				value:    sampleValue(s.Value),
			})
		}
	}

	for chunkStart := 0; chunkStart < len(fragments); chunkStart += b.chunkSize {
		end := chunkStart + b.chunkSize
		if end > len(fragments) {
			end = len(fragments)
		}
		chunk := fragments[chunkStart:end]
		if err := b.submitChunk(ctx, db, req.Timeseries, reconciler, chunk); err != nil {
			return err
		}
	}

	return nil
}

func sampleValue(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	out := v
	return &out
}

// submitChunk submits one chunk, reconciling every series in the request
// and retrying exactly once if the error is schema-related.
func (b *Batcher) submitChunk(ctx context.Context, db string, allSeries []*prompb.TimeSeries, reconciler *schema.Reconciler, chunk []fragment) error {
	stmt := buildInsert(chunk)

	err := b.driver.Exec(ctx, stmt)
	if err == nil {
		b.metrics.ChunksSubmitted.Inc()
		b.metrics.SamplesWritten.Add(float64(len(chunk)))
		return nil
	}

	if !isSchemaError(err) {
		b.metrics.ChunksFailed.Inc()
		level.Error(b.logger).Log("msg", "chunk abandoned after non-schema storage error", "db", db, "err", err)
		return fmt.Errorf("write: submit chunk: %w", err)
	}

	level.Debug(b.logger).Log("msg", "reconciling all series before retrying chunk", "db", db, "err", err)
	for i, ts := range allSeries {
		if _, rerr := reconciler.Reconcile(ctx, db, ts); rerr != nil {
			return fmt.Errorf("write: reconcile series %d on retry: %w", i, rerr)
		}
	}

	if err := b.driver.Exec(ctx, stmt); err != nil {
		b.metrics.ChunksFailed.Inc()
		level.Error(b.logger).Log("msg", "chunk abandoned after reconcile+retry", "db", db, "err", err)
		return fmt.Errorf("write: submit chunk after reconcile: %w", err)
	}

	b.metrics.ChunksReconciled.Inc()
	b.metrics.ChunksSubmitted.Inc()
	b.metrics.SamplesWritten.Add(float64(len(chunk)))
	return nil
}

func isSchemaError(err error) bool {
	serr, ok := err.(*storage.Error)
	if !ok {
		return false
	}
	return serr.Code == storage.CodeDBNotSelected || serr.Code == storage.CodeInvalidTableName
}

func buildInsert(chunk []fragment) string {
	var b strings.Builder
	b.WriteString("insert into ")
	for _, f := range chunk {
		b.WriteString(f.render())
		b.WriteString(" ")
	}
	return strings.TrimRight(b.String(), " ")
}
