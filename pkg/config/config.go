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

// Package config parses the adapter's CLI flags with kingpin: kingpin.New
// plus .Flag(...).Default(...).Enum(...)/Var(...) for each flag.
package config

import (
	"fmt"

	"github.com/alecthomas/kingpin/v2"
)

// Config holds the adapter's runtime configuration.
type Config struct {
	LogLevel       string
	Host           string
	Port           int
	User           string
	Password       string
	Listen         string
	Workers        int
	ChunkSize      int
	MaxConnections int
	MaxMemoryBytes int64
}

// Parse parses args (typically os.Args[1:]) into a Config.
func Parse(appName, appHelp string, args []string) (*Config, error) {
	app := kingpin.New(appName, appHelp)
	app.HelpFlag.Short('h')

	cfg := &Config{}

	app.Flag("level", "Log level.").
		Default("info").
		EnumVar(&cfg.LogLevel, "debug", "info", "warn", "error")

	app.Flag("host", "Storage host to connect to.").
		Default("127.0.0.1").
		StringVar(&cfg.Host)

	app.Flag("port", "Storage port to connect to.").
		Default("6030").
		IntVar(&cfg.Port)

	app.Flag("user", "Storage username.").
		Default("root").
		StringVar(&cfg.User)

	app.Flag("password", "Storage password.").
		Default("taosdata").
		StringVar(&cfg.Password)

	app.Flag("listen", "Address for the adapter's HTTP server to listen on.").
		Default(":10203").
		StringVar(&cfg.Listen)

	app.Flag("workers", "Number of concurrent HTTP request handlers (informational; net/http sizes its own goroutine pool per request).").
		Default("8").
		IntVar(&cfg.Workers)

	app.Flag("chunk-size", "Maximum number of insert fragments per submitted statement.").
		Default("600").
		IntVar(&cfg.ChunkSize)

	app.Flag("max-connections", "Maximum open connections to storage.").
		Default("20").
		IntVar(&cfg.MaxConnections)

	app.Flag("max-memory", "Peak RSS watermark in bytes above which writes are rejected (0 disables the check).").
		Default("0").
		Int64Var(&cfg.MaxMemoryBytes)

	if _, err := app.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}
	return cfg, nil
}
