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

// Package config loads conclave's host-level configuration: where to look
// for plugin manifests, where the storage service keeps its files, and the
// handshake and shutdown timeouts. conclaved applies ShutdownTimeout to
// plugin shutdown; HandshakeTimeout is loaded but nothing reads it, so the
// handshake has no time limit. Values come from a TOML file, overlaid with CONCLAVE_*
// environment variables, with an optional .env file loaded first for local
// development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/conclave-project/conclave/internal/fspath"
	"github.com/conclave-project/conclave/internal/logging"
)

const envPrefix = "CONCLAVE_"

// Config is the host's top-level configuration.
type Config struct {
	PluginsDir       fspath.Path     `mapstructure:"plugins_dir"`
	DataDir          fspath.Path     `mapstructure:"data_dir"`
	Logging          logging.Config  `mapstructure:"logging"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	ShutdownTimeout  time.Duration   `mapstructure:"shutdown_timeout"`
}

// Default returns conclave's built-in default configuration.
func Default() Config {
	return Config{
		PluginsDir:       "~/.local/share/conclave/plugins",
		DataDir:          "~/.local/share/conclave",
		Logging:          logging.Default(),
		HandshakeTimeout: 5 * time.Second,
		ShutdownTimeout:  15 * time.Second,
	}
}

// Load builds the host configuration: it starts from Default, loads envFile
// (if non-empty and present) into the process environment via godotenv,
// merges in path (a TOML file, skipped entirely if empty or missing), then
// overlays any CONCLAVE_* environment variables, and finally resolves
// PluginsDir/DataDir to absolute paths.
func Load(path fspath.Path, envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("failed to load env file %q: %w", envFile, err)
			}
		}
	}

	cfg := Default()

	if path != "" {
		if ok, err := path.IsFile(); err != nil {
			return Config{}, err
		} else if ok {
			data, err := path.ReadFile()
			if err != nil {
				return Config{}, err
			}

			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
		}
	}

	if err := overlayEnv(&cfg); err != nil {
		return Config{}, err
	}

	pluginsDir, err := cfg.PluginsDir.Abs()
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve plugins dir: %w", err)
	}

	cfg.PluginsDir = pluginsDir

	dataDir, err := cfg.DataDir.Abs()
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve data dir: %w", err)
	}

	cfg.DataDir = dataDir

	return cfg, nil
}

// overlayEnv decodes any CONCLAVE_* environment variables over cfg using
// mapstructure, so a deployment can override individual fields (e.g.
// CONCLAVE_LOGGING_LEVEL=debug) without a config file. Every underscore in
// the variable name after the prefix starts a new nesting level, so fields
// whose keys contain an underscore (plugins_dir, data_dir,
// handshake_timeout, shutdown_timeout) cannot be set this way.
func overlayEnv(cfg *Config) error {
	env := map[string]any{}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}

		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_")
		setNested(env, path, value)
	}

	if len(env) == 0 {
		return nil
	}

	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
		WeaklyTypedInput: true,
		Result:           cfg,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}

	if err := decoder.Decode(env); err != nil {
		return fmt.Errorf("failed to decode environment overlay: %w", err)
	}

	return nil
}

// setNested assigns value at the nested location in m described by path,
// e.g. ["logging", "level"] sets m["logging"].(map[string]any)["level"].
func setNested(m map[string]any, path []string, value string) {
	if len(path) == 0 {
		return
	}

	if len(path) == 1 {
		m[path[0]] = value

		return
	}

	next, ok := m[path[0]].(map[string]any)
	if !ok {
		next = map[string]any{}
		m[path[0]] = next
	}

	setNested(next, path[1:], value)
}
