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

// Package plugin implements the supervisor: it discovers plugin manifests,
// spawns each plugin as a subprocess, drives the handshake, and multiplexes
// the line-delimited envelope protocol between the host and every running
// plugin.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/conclave-project/conclave/internal/fspath"
	"github.com/conclave-project/conclave/internal/storage"
	"github.com/conclave-project/conclave/pkg/manifest"
)

// A Manager owns every plugin handle discovered under one workspace root
// and is the sole entry point the rest of the host uses to start, list,
// call, and stop plugins.
type Manager struct {
	workspaceRoot fspath.Path
	dataDir       fspath.Path
	withStorage   bool
	logger        *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*Handle

	Events *eventBus
}

// NewManager constructs an empty manager rooted at workspaceRoot. Call
// Discover to populate it from a plugins directory.
func NewManager(workspaceRoot, dataDir fspath.Path, withStorage bool, logger *slog.Logger) *Manager {
	m := &Manager{
		workspaceRoot: workspaceRoot,
		dataDir:       dataDir,
		withStorage:   withStorage,
		logger:        logger,
		plugins:       make(map[string]*Handle),
	}
	m.Events = newEventBus(m, logger)

	return m
}

// Discover walks pluginsDir and populates the manager's handle table. It is
// safe to call on an already-populated manager only before any plugin has
// been started. If any manifest fails to load, Discover returns that error
// and adds no handles, including for the manifests that did parse.
func (m *Manager) Discover(pluginsDir fspath.Path) error {
	discovered, err := manifest.Discover(m.workspaceRoot, pluginsDir)
	if err != nil {
		return fmt.Errorf("failed to discover plugins: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range discovered {
		m.plugins[d.Manifest.ID] = newHandle(d.Manifest, d.Dir, d.Exec)
	}

	return nil
}

// StartAll spawns and hand-shakes every discovered plugin concurrently.
// Failures are fail-soft: one plugin's handshake failure is logged and
// leaves that handle Stopped, but does not prevent the others from
// starting. The returned error is non-nil only if at least one plugin
// failed to start; it reports how many failed, and each cause is logged
// rather than returned.
func (m *Manager) StartAll(ctx context.Context) error {
	handles := m.snapshotHandles()

	// Each goroutine always returns nil: a sibling's failure must never
	// cancel errgroup's shared context and abort plugins still starting,
	// so failures are logged and tallied locally instead of propagated.
	var g errgroup.Group

	var failed atomic.Int32

	for _, h := range handles {
		h := h

		g.Go(func() error {
			h.bus = m.Events

			if m.withStorage {
				store, err := storage.Open(m.dataDir, h.Manifest.ID)
				if err != nil {
					m.logger.Error("failed to open plugin storage", "plugin", h.Manifest.ID, "err", err)
					failed.Add(1)

					return nil
				}

				h.store = store
			}

			if err := start(ctx, h, m.logger); err != nil {
				m.logger.Error("failed to start plugin", "plugin", h.Manifest.ID, "err", err)
				failed.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d plugins failed to start", n, len(handles))
	}

	return nil
}

// A Listing is one plugin's entry in the snapshot returned by List.
type Listing struct {
	Manifest manifest.Manifest
	Status   Status
	Dir      fspath.Path
}

// List returns a snapshot of every known plugin, sorted by id for
// deterministic output.
func (m *Manager) List() []Listing {
	handles := m.snapshotHandles()

	out := make([]Listing, 0, len(handles))
	for _, h := range handles {
		out = append(out, Listing{Manifest: h.Manifest, Status: h.Status(), Dir: h.Dir})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })

	return out
}

// ShutdownAll asks every running plugin to stop, waiting up to the context
// deadline before killing stragglers.
func (m *Manager) ShutdownAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, h := range m.snapshotHandles() {
		if h.Status() != StatusRunning {
			continue
		}

		wg.Add(1)

		go func(h *Handle) {
			defer wg.Done()

			if err := stop(ctx, h); err != nil {
				m.logger.Warn("plugin did not shut down cleanly", "plugin", h.Manifest.ID, "err", err)
				kill(h)
			}
		}(h)
	}

	wg.Wait()
}

func (m *Manager) handle(id string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.plugins[id]

	return h, ok
}

func (m *Manager) snapshotHandles() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Handle, 0, len(m.plugins))
	for _, h := range m.plugins {
		out = append(out, h)
	}

	return out
}
