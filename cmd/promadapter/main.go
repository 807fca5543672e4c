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

// Command promadapter runs the Prometheus remote-write/remote-read HTTP
// adapter for a columnar time-series store organized around a super-table
// (per-metric schema) / sub-table (per-label-set series) model.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taosdata/prometheus-storage-adapter/pkg/adapter"
	"github.com/taosdata/prometheus-storage-adapter/pkg/config"
	"github.com/taosdata/prometheus-storage-adapter/pkg/metrics"
	"github.com/taosdata/prometheus-storage-adapter/pkg/read"
	"github.com/taosdata/prometheus-storage-adapter/pkg/schema"
	"github.com/taosdata/prometheus-storage-adapter/pkg/storage"
	"github.com/taosdata/prometheus-storage-adapter/pkg/storage/memdriver"
	"github.com/taosdata/prometheus-storage-adapter/pkg/write"
)

func main() {
	cfg, err := config.Parse("promadapter", "Prometheus remote storage adapter for a columnar time-series database.", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	driver := newDriver(cfg, logger)
	defer driver.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cache := schema.NewCache()
	batcher := write.NewBatcher(driver, cache, logger,
		write.WithChunkSize(cfg.ChunkSize),
		write.WithMetrics(write.NewMetrics(reg)),
	)
	executor := read.NewExecutor(driver)

	handler := adapter.NewHandler(batcher, executor, logger, metrics.NewHTTP(reg), adapter.DefaultRetryPolicy)
	handler.MaxMemoryBytes = cfg.MaxMemoryBytes

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "promadapter is Healthy.\n")
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "promadapter is Ready.\n")
	})

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)

		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
			case <-cancel:
			}
			return nil
		}, func(err error) {
			close(cancel)
		})
	}
	{
		g.Add(func() error {
			level.Info(logger).Log("msg", "starting HTTP server", "listen", cfg.Listen, "host", cfg.Host, "port", cfg.Port)
			return server.ListenAndServe()
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exiting", "err", err)
		os.Exit(1)
	}
}

func newLogger(levelName string) log.Logger {
	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lvl level.Option
	switch levelName {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}

// newDriver builds the storage.Driver this binary talks to. No production
// Go driver exists for the target database's native wire protocol (the
// upstream reference implementation links a native C client instead), so
// the in-memory driver stands in here; a real deployment swaps it for a
// driver implementing the same pkg/storage.Driver interface using
// cfg.Host/Port/User/Password.
func newDriver(cfg *config.Config, logger log.Logger) storage.Driver {
	level.Warn(logger).Log("msg", "using in-memory storage driver; replace with a production pkg/storage.Driver implementation before deploying",
		"host", cfg.Host, "port", cfg.Port)
	return memdriver.New(127)
}
