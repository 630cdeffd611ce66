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

// Package logging sets up conclave's structured logging. The program uses
// [log/slog] throughout; this package only decides where the records go and
// in which format, driven by [Config]. Before the configuration is parsed,
// [InitBootstrap] installs a conservative default so that discovery and
// config errors are still logged somewhere.
package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/conclave-project/conclave/internal/fspath"
)

// Default values for the logger.
const (
	defaultTimeFormat = "2006-01-02T15:04:05.000-07:00"
)

// Errors returned by the logging package.
var errInvalidFormat = errors.New("unsupported log format")

// Config contains the user-facing logging configuration, decoded from the
// host's TOML config file and environment overlay (see internal/config).
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Output string `mapstructure:"output"` // "stderr", "stdout", or a file path
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// Default returns conclave's default logging configuration: text to stderr
// at info level.
func Default() Config {
	return Config{Format: "text", Output: "stderr", Level: "info"}
}

// InitBootstrap installs a minimal default logger for use before the host's
// configuration has been parsed. It mirrors the CONCLAVE_DEBUG environment
// variable: unset or "0"/"false" discards bootstrap logs, anything else
// enables debug-level text logging to stderr.
func InitBootstrap() {
	debugVar := strings.ToLower(os.Getenv("CONCLAVE_DEBUG"))
	if debugVar == "" || debugVar == "0" || debugVar == "false" {
		slog.SetDefault(slog.New(slog.DiscardHandler))

		return
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

// Init configures and installs the default [slog.Logger] according to cfg.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	w, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(defaultTimeFormat))
			}

			return a
		},
	}

	var handler slog.Handler

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("%w: %q", errInvalidFormat, cfg.Format)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown level %q", errInvalidFormat, s)
	}
}

func openOutput(output string) (*os.File, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		path, err := fspath.Path(output).Abs()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve log output path: %w", err)
		}

		if err := path.Dir().MkdirAll(0o755); err != nil {
			return nil, err
		}

		f, err := path.OpenFile(os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
		}

		return f, nil
	}
}
