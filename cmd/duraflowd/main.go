// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/duraflow/internal/config"
	"github.com/tombee/duraflow/internal/daemon"
	"github.com/tombee/duraflow/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listenAddr  = flag.String("listen", "", "Address to listen on (host:port)")
		dbPath      = flag.String("db", "", "Path to SQLite database file")
		tracing     = flag.Bool("tracing", false, "Enable OpenTelemetry span export to stdout")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("duraflowd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", log.Error(err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *listenAddr != "" {
		cfg.Listen.Addr = *listenAddr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *tracing {
		cfg.Tracing.Enabled = true
	}

	d, err := daemon.New(cfg, logger, version)
	if err != nil {
		logger.Error("Failed to create daemon", log.Error(err))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		logger.Error("Daemon error", log.Error(err))
		os.Exit(1)
	}
}
