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

package plugin

import (
	"os/exec"
	"sync/atomic"

	"github.com/conclave-project/conclave/internal/fspath"
	"github.com/conclave-project/conclave/internal/storage"
	"github.com/conclave-project/conclave/pkg/manifest"
)

// A Handle is the host's authoritative record for one discovered plugin. Its
// manifest and directory are immutable for its lifetime; everything else
// changes as the plugin is started, called, and eventually stopped.
type Handle struct {
	Manifest manifest.Manifest
	Dir      fspath.Path
	Exec     fspath.Path

	status atomic.Int32

	cmd    *exec.Cmd
	writer *writerGateway
	store  *storage.Store
	bus    *eventBus

	pending *pendingTable
	subs    *subscriptionSet
	timers  *timerRegistry

	// protocolErrors counts malformed or shape-invalid envelopes observed on
	// this plugin's stdout. The reader loop kills the plugin once this
	// reaches DefaultMaxProtocolErrors; see countProtocolError.
	protocolErrors atomic.Uint32

	done chan struct{}
}

func newHandle(m manifest.Manifest, dir, exec fspath.Path) *Handle {
	h := &Handle{
		Manifest: m,
		Dir:      dir,
		Exec:     exec,
		pending:  newPendingTable(),
		subs:     newSubscriptionSet(),
		timers:   newTimerRegistry(),
		done:     make(chan struct{}),
	}
	h.status.Store(int32(StatusDiscovered))

	return h
}

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() Status {
	return Status(h.status.Load())
}

func (h *Handle) setStatus(s Status) {
	h.status.Store(int32(s))
}

// Done returns a channel closed once the plugin's reader loop has exited,
// i.e. once the plugin is no longer Running.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// countProtocolError records one malformed or shape-invalid envelope and
// reports whether the plugin has now reached DefaultMaxProtocolErrors and
// should be killed.
func (h *Handle) countProtocolError() bool {
	return h.protocolErrors.Add(1) >= DefaultMaxProtocolErrors
}
