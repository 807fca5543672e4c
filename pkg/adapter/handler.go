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

// Package adapter is the HTTP front door: request framing, snappy
// decompression, protobuf decode/encode, routing, the outer bounded retry
// loop around the write batcher, and failed-write persistence on retry
// exhaustion.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	"github.com/gogo/protobuf/proto"
	"github.com/prometheus/prometheus/prompb"

	"github.com/taosdata/prometheus-storage-adapter/pkg/metrics"
	"github.com/taosdata/prometheus-storage-adapter/pkg/read"
	"github.com/taosdata/prometheus-storage-adapter/pkg/schema"
	"github.com/taosdata/prometheus-storage-adapter/pkg/write"
)

const (
	writePath = "/adapters/prometheus/write"
	readPath  = "/adapters/prometheus/read"

	defaultDatabase = "prometheus"

	failedWriteDir = "."
)

// RetryPolicy bounds the outer retry loop around the write batcher.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy allows up to 10 attempts with a short backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 10, Backoff: 50 * time.Millisecond}

// Handler is the HTTP front door. It owns the write batcher and read
// executor and exposes them over HTTP.
type Handler struct {
	Batcher  *write.Batcher
	Executor *read.Executor
	Logger   log.Logger
	Metrics  *metrics.HTTP
	Retry    RetryPolicy

	// MaxMemoryBytes is the peak-RSS watermark above which writes are
	// rejected; 0 disables the check.
	MaxMemoryBytes int64

	// memStats lets tests substitute a fake reading without allocating
	// real memory pressure.
	memStats func() uint64
}

// NewHandler builds a Handler. If retry is the zero value, DefaultRetryPolicy is used.
func NewHandler(b *write.Batcher, e *read.Executor, logger log.Logger, m *metrics.HTTP, retry RetryPolicy) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewHTTP(nil)
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	return &Handler{
		Batcher:  b,
		Executor: e,
		Logger:   logger,
		Metrics:  m,
		Retry:    retry,
		memStats: currentRSS,
	}
}

// Register mounts the write and read routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(writePath, h.serveWrite)
	mux.HandleFunc(readPath, h.serveRead)
}

func currentRSS() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

func databaseParam(r *http.Request) string {
	db := r.URL.Query().Get("database")
	if db == "" {
		return defaultDatabase
	}
	return db
}

func (h *Handler) serveWrite(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.handleWrite(w, r)
	h.Metrics.RequestsTotal.WithLabelValues("write", status).Inc()
	h.Metrics.RequestDuration.WithLabelValues("write").Observe(time.Since(start).Seconds())
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) string {
	defer drainAndClose(r.Body)

	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return "404"
	}

	if h.MaxMemoryBytes > 0 && h.memStats() > uint64(h.MaxMemoryBytes) {
		level.Error(h.Logger).Log("msg", "rejecting write, memory watermark exceeded")
		http.Error(w, "memory limit exceeded", http.StatusInternalServerError)
		return "500"
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.badRequest(w, fmt.Errorf("reading request body: %w", err))
		return "406"
	}

	decompressed, err := snappy.Decode(nil, body)
	if err != nil {
		h.badRequest(w, fmt.Errorf("decompressing snappy payload: %w", err))
		return "406"
	}

	var req prompb.WriteRequest
	if err := proto.Unmarshal(decompressed, &req); err != nil {
		h.badRequest(w, fmt.Errorf("decoding WriteRequest: %w", err))
		return "406"
	}

	db := databaseParam(r)

	if err := h.writeWithRetry(r.Context(), db, &req); err != nil {
		if errors.Is(err, schema.ErrMissingMetricName) {
			h.badRequest(w, err)
			return "406"
		}
		level.Error(h.Logger).Log("msg", "write failed after retry budget exhausted", "db", db, "err", err)
		h.persistFailedWrite(body)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "500"
	}

	w.WriteHeader(http.StatusOK)
	return "200"
}

// writeWithRetry bounds the outer retry loop the HTTP layer applies around
// the batcher, for transient storage errors that survived the batcher's own
// reconcile-and-retry.
func (h *Handler) writeWithRetry(ctx context.Context, db string, req *prompb.WriteRequest) error {
	var err error
	backoff := h.Retry.Backoff
	for attempt := 0; attempt < h.Retry.MaxAttempts; attempt++ {
		err = h.Batcher.Write(ctx, db, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, schema.ErrMissingMetricName) {
			return err // not retryable: malformed input, not transient
		}
		if attempt < h.Retry.MaxAttempts-1 {
			h.Metrics.RetriesTotal.WithLabelValues("write").Inc()
			level.Debug(h.Logger).Log("msg", "retrying write after storage error", "attempt", attempt+1, "err", err)
			time.Sleep(backoff)
		}
	}
	return err
}

func (h *Handler) persistFailedWrite(body []byte) {
	name := fmt.Sprintf("prom-failed-write-%s.snappy", schema.MD5Hex(string(body)))
	path := filepath.Join(failedWriteDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		level.Error(h.Logger).Log("msg", "failed to persist failed write to disk", "path", path, "err", err)
		return
	}
	h.Metrics.FailedWritesPersisted.Inc()
	level.Info(h.Logger).Log("msg", "persisted failed write", "path", path)
}

func (h *Handler) serveRead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.handleRead(w, r)
	h.Metrics.RequestsTotal.WithLabelValues("read", status).Inc()
	h.Metrics.RequestDuration.WithLabelValues("read").Observe(time.Since(start).Seconds())
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) string {
	defer drainAndClose(r.Body)

	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return "404"
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.badRequest(w, fmt.Errorf("reading request body: %w", err))
		return "406"
	}

	decompressed, err := snappy.Decode(nil, body)
	if err != nil {
		h.badRequest(w, fmt.Errorf("decompressing snappy payload: %w", err))
		return "406"
	}

	var req prompb.ReadRequest
	if err := proto.Unmarshal(decompressed, &req); err != nil {
		h.badRequest(w, fmt.Errorf("decoding ReadRequest: %w", err))
		return "406"
	}

	db := databaseParam(r)

	resp, err := h.Executor.Execute(r.Context(), db, &req)
	if err != nil {
		if isPlanningError(err) {
			h.badRequest(w, err)
			return "406"
		}
		level.Error(h.Logger).Log("msg", "read failed", "db", db, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "500"
	}

	out, err := proto.Marshal(resp)
	if err != nil {
		level.Error(h.Logger).Log("msg", "encoding ReadResponse failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "500"
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Content-Encoding", "snappy")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snappy.Encode(nil, out))
	return "200"
}

func isPlanningError(err error) bool {
	switch err {
	case read.ErrNoneTableName, read.ErrUnknownMetricNameMatchType:
		return true
	}
	_, ok := err.(*read.RegexCompileError)
	return ok
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	level.Debug(h.Logger).Log("msg", "rejecting malformed request", "err", err)
	http.Error(w, err.Error(), http.StatusNotAcceptable)
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
