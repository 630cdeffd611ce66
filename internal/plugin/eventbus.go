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
	"log/slog"

	"github.com/conclave-project/conclave/pkg/envelope"
)

// eventBus fans host-originated events out to every running plugin
// subscribed to the topic. Plugin-originated events are still dropped by
// the reader loop per the wire protocol's steady-state contract; this bus
// only carries traffic the host itself decides to publish, such as a
// plugin's storage.put becoming visible to other plugins watching the same
// key space, or future host-internal signals.
type eventBus struct {
	manager *Manager
	logger  *slog.Logger
}

func newEventBus(m *Manager, logger *slog.Logger) *eventBus {
	return &eventBus{manager: m, logger: logger}
}

// Publish sends topic/payload to every running plugin whose subscription
// set contains topic. Deliveries are written one plugin at a time on the
// caller's goroutine, and Publish returns once all of them are written. A
// failed write is logged and skipped, so a dead subscriber does not stop
// delivery to the others; a subscriber that is slow to drain its stdin
// delays the deliveries after it and the caller.
func (b *eventBus) Publish(topic string, payload any) {
	for _, h := range b.manager.snapshotHandles() {
		if h.Status() != StatusRunning {
			continue
		}

		if !h.subs.has(topic) {
			continue
		}

		env, err := envelope.NewEvent(topic, payload)
		if err != nil {
			b.logger.Error("failed to build event envelope", "topic", topic, "err", err)
			continue
		}

		if err := h.writer.Write(env); err != nil {
			b.logger.Warn("failed to deliver event to plugin", "plugin", h.Manifest.ID, "topic", topic, "err", err)
		}
	}
}
