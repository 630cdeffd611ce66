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

// Package storage implements conclave's per-plugin key/value store backing
// the storage.get and storage.put host services. Each plugin gets one
// CBOR-encoded file holding a single mapping from string keys to
// structured values; there is no query, range, or secondary indexing.
package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/conclave-project/conclave/internal/fspath"
)

// A Store is the in-memory, mutex-guarded view of one plugin's persisted
// key/value data.
type Store struct {
	mu   sync.Mutex
	file fspath.Path
	data map[string]any
}

// Open loads (or creates) the store for pluginID under dataDir, at
// <dataDir>/plugins/<pluginID>/data.cbor.
func Open(dataDir fspath.Path, pluginID string) (*Store, error) {
	dir := dataDir.Join("plugins", pluginID)
	if err := dir.MkdirAll(0o755); err != nil {
		return nil, err
	}

	file := dir.Join("data.cbor")

	data := map[string]any{}

	if ok, err := file.IsFile(); err != nil {
		return nil, err
	} else if ok {
		raw, err := file.ReadFile()
		if err != nil {
			return nil, err
		}

		if len(raw) > 0 {
			if err := cbor.Unmarshal(raw, &data); err != nil {
				return nil, fmt.Errorf("failed to decode storage file %q: %w", file, err)
			}
		}
	}

	return &Store{file: file, data: data}, nil
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]

	return v, ok
}

// Put stores value under key and atomically rewrites the backing file.
// Concurrent Put calls for the same Store are serialized by s.mu.
func (s *Store) Put(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value

	raw, err := cbor.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to encode storage data: %w", err)
	}

	tmp := s.file.String() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write storage temp file %q: %w", tmp, err)
	}

	if err := os.Rename(tmp, s.file.String()); err != nil {
		return fmt.Errorf("failed to replace storage file %q: %w", s.file, err)
	}

	return nil
}
