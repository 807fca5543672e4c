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

package adapter

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/gogo/protobuf/proto"
	"github.com/prometheus/prometheus/prompb"

	"github.com/taosdata/prometheus-storage-adapter/pkg/metrics"
	"github.com/taosdata/prometheus-storage-adapter/pkg/read"
	"github.com/taosdata/prometheus-storage-adapter/pkg/schema"
	"github.com/taosdata/prometheus-storage-adapter/pkg/storage"
	"github.com/taosdata/prometheus-storage-adapter/pkg/storage/memdriver"
	"github.com/taosdata/prometheus-storage-adapter/pkg/write"
)

func newTestHandler() *Handler {
	d := memdriver.New(128)
	cache := schema.NewCache()
	b := write.NewBatcher(d, cache, nil)
	e := read.NewExecutor(d)
	return NewHandler(b, e, nil, metrics.NewHTTP(nil), RetryPolicy{MaxAttempts: 2, Backoff: 0})
}

func snappyProto(t *testing.T, m proto.Message) []byte {
	t.Helper()
	raw, err := proto.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return snappy.Encode(nil, raw)
}

func TestWriteRejectsNonSnappyBody(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, writePath, bytes.NewReader([]byte("not snappy")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotAcceptable)
	}
}

func TestWriteRejectsMalformedProtobuf(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	body := snappy.Encode(nil, []byte{0xff, 0xff, 0xff})
	req := httptest.NewRequest(http.MethodPost, writePath, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotAcceptable)
	}
}

func TestWriteMissingMetricNameIsMalformed(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	wr := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "host", Value: "a"}},
		Samples: []prompb.Sample{{Timestamp: 1000, Value: 1}},
	}}}
	req := httptest.NewRequest(http.MethodPost, writePath, bytes.NewReader(snappyProto(t, wr)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotAcceptable)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	wr := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "__name__", Value: "cpu"}, {Name: "host", Value: "a"}},
		Samples: []prompb.Sample{{Timestamp: 1000, Value: 1}},
	}}}
	wreq := httptest.NewRequest(http.MethodPost, writePath+"?database=mydb", bytes.NewReader(snappyProto(t, wr)))
	wrec := httptest.NewRecorder()
	mux.ServeHTTP(wrec, wreq)
	if wrec.Code != http.StatusOK {
		t.Fatalf("write status = %d, body = %s", wrec.Code, wrec.Body.String())
	}

	rr := &prompb.ReadRequest{Queries: []*prompb.Query{{
		StartTimestampMs: 0,
		EndTimestampMs:   2000,
		Matchers:         []*prompb.LabelMatcher{{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu"}},
	}}}
	rreq := httptest.NewRequest(http.MethodPost, readPath+"?database=mydb", bytes.NewReader(snappyProto(t, rr)))
	rrec := httptest.NewRecorder()
	mux.ServeHTTP(rrec, rreq)
	if rrec.Code != http.StatusOK {
		t.Fatalf("read status = %d, body = %s", rrec.Code, rrec.Body.String())
	}

	decoded, err := snappy.Decode(nil, rrec.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	var resp prompb.ReadResponse
	if err := proto.Unmarshal(decoded, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || len(resp.Results[0].Timeseries) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Results[0].Timeseries[0].Samples) != 1 {
		t.Fatalf("samples = %+v", resp.Results[0].Timeseries[0].Samples)
	}
}

func TestWriteDefaultsDatabaseWhenOmitted(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	wr := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "__name__", Value: "cpu"}, {Name: "host", Value: "a"}},
		Samples: []prompb.Sample{{Timestamp: 1000, Value: 1}},
	}}}
	wreq := httptest.NewRequest(http.MethodPost, writePath, bytes.NewReader(snappyProto(t, wr)))
	wrec := httptest.NewRecorder()
	mux.ServeHTTP(wrec, wreq)
	if wrec.Code != http.StatusOK {
		t.Fatalf("write status = %d", wrec.Code)
	}

	rr := &prompb.ReadRequest{Queries: []*prompb.Query{{
		StartTimestampMs: 0,
		EndTimestampMs:   2000,
		Matchers:         []*prompb.LabelMatcher{{Type: prompb.LabelMatcher_EQ, Name: "__name__", Value: "cpu"}},
	}}}
	rreq := httptest.NewRequest(http.MethodPost, readPath, bytes.NewReader(snappyProto(t, rr)))
	rrec := httptest.NewRecorder()
	mux.ServeHTTP(rrec, rreq)
	if rrec.Code != http.StatusOK {
		t.Fatalf("read status = %d", rrec.Code)
	}

	decoded, _ := snappy.Decode(nil, rrec.Body.Bytes())
	var resp prompb.ReadResponse
	_ = proto.Unmarshal(decoded, &resp)
	if len(resp.Results[0].Timeseries) != 1 {
		t.Fatalf("expected the write with no ?database= to land in %q", defaultDatabase)
	}
}

func TestReadRejectsQueryWithNoMetricNameMatcher(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	rr := &prompb.ReadRequest{Queries: []*prompb.Query{{
		StartTimestampMs: 0,
		EndTimestampMs:   2000,
		Matchers:         []*prompb.LabelMatcher{{Type: prompb.LabelMatcher_EQ, Name: "host", Value: "a"}},
	}}}
	rreq := httptest.NewRequest(http.MethodPost, readPath, bytes.NewReader(snappyProto(t, rr)))
	rrec := httptest.NewRecorder()
	mux.ServeHTTP(rrec, rreq)

	if rrec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want %d", rrec.Code, http.StatusNotAcceptable)
	}
}

func TestWriteRejectsWhenMemoryWatermarkExceeded(t *testing.T) {
	h := newTestHandler()
	h.MaxMemoryBytes = 1
	h.memStats = func() uint64 { return 1000 }
	mux := http.NewServeMux()
	h.Register(mux)

	wr := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "__name__", Value: "cpu"}},
		Samples: []prompb.Sample{{Timestamp: 1000, Value: 1}},
	}}}
	req := httptest.NewRequest(http.MethodPost, writePath, bytes.NewReader(snappyProto(t, wr)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

// alwaysFailDriver fails every Exec with an opaque transport error, never a
// schema-related storage.Code, to exercise the outer retry-then-persist path
// without the reconciler's benign tag/field-exists tolerance kicking in.
type alwaysFailDriver struct{}

func (alwaysFailDriver) Exec(ctx context.Context, stmt string) error {
	return storage.NewTransportError("connection refused", errors.New("dial tcp: connect: connection refused"))
}

func (alwaysFailDriver) Describe(ctx context.Context, db, stableName string) ([]storage.Column, error) {
	return nil, storage.NewCodeError(storage.CodeInvalidTableName, "no such stable")
}

func (alwaysFailDriver) ShowStables(ctx context.Context, db string) ([]string, error) { return nil, nil }

func (alwaysFailDriver) Query(ctx context.Context, stmt string) ([]storage.Row, error) { return nil, nil }

func (alwaysFailDriver) Close() error { return nil }

func TestFailedWriteIsPersistedAfterRetryExhaustion(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	d := alwaysFailDriver{}
	cache := schema.NewCache()
	b := write.NewBatcher(d, cache, nil)
	e := read.NewExecutor(d)
	h := NewHandler(b, e, nil, metrics.NewHTTP(nil), RetryPolicy{MaxAttempts: 2, Backoff: 0})
	mux := http.NewServeMux()
	h.Register(mux)

	wr := &prompb.WriteRequest{Timeseries: []prompb.TimeSeries{{
		Labels:  []prompb.Label{{Name: "__name__", Value: "cpu"}, {Name: "host", Value: "a"}},
		Samples: []prompb.Sample{{Timestamp: 1000, Value: 1}},
	}}}
	req := httptest.NewRequest(http.MethodPost, writePath, bytes.NewReader(snappyProto(t, wr)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusInternalServerError, rec.Body.String())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "prom-failed-write-*.snappy"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one persisted failed-write file, got %v", matches)
	}
}
