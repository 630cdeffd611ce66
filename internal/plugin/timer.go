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
	"context"
	"sync"
	"time"

	"github.com/conclave-project/conclave/pkg/envelope"
)

// timerRegistry tracks the running timer tasks for a single plugin, keyed by
// the caller-supplied timer id. Re-registering an id cancels the previous
// task before starting the new one: a documented replace, not a multiplex,
// resolving the source's ambiguous double-timer behavior.
type timerRegistry struct {
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{cancel: make(map[string]context.CancelFunc)}
}

// set replaces (if present) the timer task for id and starts a fresh one
// that ticks every interval, emitting a timer.tick event through w until ctx
// is cancelled or the task is itself replaced/removed.
func (r *timerRegistry) set(ctx context.Context, id string, interval time.Duration, w *writerGateway) {
	taskCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if old, ok := r.cancel[id]; ok {
		old()
	}

	r.cancel[id] = cancel
	r.mu.Unlock()

	go runTimer(taskCtx, id, interval, w)
}

// stopAll cancels every running timer task, used when the plugin dies.
func (r *timerRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, cancel := range r.cancel {
		cancel()
		delete(r.cancel, id)
	}
}

func runTimer(ctx context.Context, id string, interval time.Duration, w *writerGateway) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			payload := map[string]any{
				"id":     id,
				"now_ms": now.UnixMilli(),
			}

			env, err := envelope.NewEvent("timer.tick", payload)
			if err != nil {
				return
			}

			// A write failure means the plugin's stdin is gone; the reader
			// loop will observe the same death and tear this task down via
			// context cancellation.
			if err := w.Write(env); err != nil {
				return
			}
		}
	}
}
