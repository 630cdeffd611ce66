// Copyright 2025 The Conclave Authors
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

// Command conclaved is conclave's plugin host: it discovers plugin
// manifests, spawns and hand-shakes with each plugin, and either serves
// until interrupted (run) or prints what it found (list).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/conclave-project/conclave/internal/config"
	"github.com/conclave-project/conclave/internal/fspath"
	"github.com/conclave-project/conclave/internal/logging"
	"github.com/conclave-project/conclave/internal/panichandler"
	"github.com/conclave-project/conclave/internal/plugin"
)

func main() {
	os.Exit(run())
}

func run() int {
	defer panichandler.Handle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	panichandler.SetCancel(cancel)

	logging.InitBootstrap()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	handlePanic := panichandler.WithStackTrace()
	go func() {
		defer handlePanic()
		<-sigc
		cancel()
	}()

	fs := flag.NewFlagSet("conclaved", flag.ContinueOnError)

	var (
		configPath = fs.String("config", "", "path to the conclave TOML configuration file")
		envFile    = fs.String("env-file", ".env", "path to an optional .env file loaded before config")
		pluginsDir = fs.String("plugins-dir", "", "override the configured plugins directory")
		dataDir    = fs.String("data-dir", "", "override the configured data directory")
		workspace  = fs.String("workspace", "", "workspace root used to resolve relative plugin executables (defaults to the current directory)")
		safeMode   = fs.Bool("safe", false, "start the host without discovering or running plugins")
	)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	args := fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: expected a subcommand, one of: run, list")
		return 1
	}

	cfg, err := config.Load(fspath.Path(*configPath), *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *pluginsDir != "" {
		cfg.PluginsDir = fspath.Path(*pluginsDir)
	}

	if *dataDir != "" {
		cfg.DataDir = fspath.Path(*dataDir)
	}

	if err := logging.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	workspaceRoot := fspath.Path(*workspace)
	if workspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

		workspaceRoot = fspath.Path(wd)
	}

	switch args[0] {
	case "run":
		return runCommand(ctx, cfg, workspaceRoot, *safeMode)
	case "list":
		return listCommand(ctx, cfg, workspaceRoot, *safeMode)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown subcommand %q\n", args[0])
		return 1
	}
}

func runCommand(ctx context.Context, cfg config.Config, workspaceRoot fspath.Path, safeMode bool) int {
	m := plugin.NewManager(workspaceRoot, cfg.DataDir, true, slog.Default())

	var startErr error

	if !safeMode {
		if err := m.Discover(cfg.PluginsDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}

		if startErr = m.StartAll(ctx); startErr != nil {
			slog.Error("some plugins failed to start", "err", startErr)
		}
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	m.ShutdownAll(shutdownCtx)

	if startErr != nil {
		return 1
	}

	return 0
}

func listCommand(_ context.Context, cfg config.Config, workspaceRoot fspath.Path, safeMode bool) int {
	m := plugin.NewManager(workspaceRoot, cfg.DataDir, true, slog.Default())

	if !safeMode {
		if err := m.Discover(cfg.PluginsDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	for _, entry := range m.List() {
		fmt.Printf("%-20s %-10s %-10s %s\n", entry.Manifest.ID, entry.Manifest.Version, entry.Status, entry.Dir)
	}

	return 0
}
