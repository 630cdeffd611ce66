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
	"sync"

	"github.com/conclave-project/conclave/pkg/envelope"
)

// pendingResult is delivered to a waiting caller exactly once: either the
// matching response envelope, or an error if the plugin died or the host
// gave up on the entry.
type pendingResult struct {
	env *envelope.Envelope
	err error
}

// pendingTable maps a request id to a single-use completion slot. Exactly
// one producer (the reader loop, or closeAll on plugin death) resolves each
// slot; exactly one consumer (the call facade) receives it.
type pendingTable struct {
	mu   sync.Mutex
	slot map[string]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{slot: make(map[string]chan pendingResult)}
}

// register creates a new slot for id and returns the channel the caller
// should block on.
func (t *pendingTable) register(id string) chan pendingResult {
	ch := make(chan pendingResult, 1)

	t.mu.Lock()
	t.slot[id] = ch
	t.mu.Unlock()

	return ch
}

// resolve delivers env to the slot registered for env.ID, if any. It reports
// whether a slot was found; an unknown id is the caller's cue to discard the
// response rather than treat it as an error.
func (t *pendingTable) resolve(env *envelope.Envelope) bool {
	t.mu.Lock()
	ch, ok := t.slot[env.ID]

	if ok {
		delete(t.slot, env.ID)
	}

	t.mu.Unlock()

	if !ok {
		return false
	}

	ch <- pendingResult{env: env}
	close(ch)

	return true
}

// remove deletes the slot for id without resolving it, used when a caller
// cancels before a response arrives so the slot cannot leak.
func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.slot, id)
}

// closeAll resolves every outstanding slot with err, used when the reader
// loop exits because the plugin's pipe closed.
func (t *pendingTable) closeAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.slot {
		ch <- pendingResult{err: err}
		close(ch)
		delete(t.slot, id)
	}
}
