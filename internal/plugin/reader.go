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
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conclave-project/conclave/pkg/envelope"
)

// DefaultMaxProtocolErrors is the number of malformed or shape-invalid
// envelopes at which a plugin's reader loop gives up on it: the first
// DefaultMaxProtocolErrors-1 are tolerated, the next one kills the plugin.
// A single bad line does not kill a plugin outright; a plugin that cannot
// hold a coherent conversation does.
const DefaultMaxProtocolErrors = 5

// runReaderLoop consumes envelopes from r until end-of-stream, dispatching
// each by kind, and is the sole owner of the plugin's stdout for the
// lifetime of the plugin. It returns once the stream closes or the plugin
// has accumulated DefaultMaxProtocolErrors malformed envelopes; in both
// cases it first tears the plugin down via killPlugin.
func runReaderLoop(ctx context.Context, h *Handle, r *bufio.Reader, logger *slog.Logger) {
	defer close(h.done)
	defer h.timers.stopAll()

	log := logger.With("plugin", h.Manifest.ID)

	for {
		env, err := envelope.Read(r)
		if err != nil {
			if errors.Is(err, envelope.ErrClosedPipe) {
				log.Info("plugin pipe closed")
				killPlugin(h, envelope.ErrClosedPipe)

				return
			}

			log.Warn("malformed envelope", "err", err)

			if h.countProtocolError() {
				log.Error("too many protocol errors, closing plugin", "count", DefaultMaxProtocolErrors)
				killPlugin(h, envelope.ErrClosedPipe)

				return
			}

			continue
		}

		if err := env.Validate(); err != nil {
			log.Warn("dropping malformed envelope", "err", err)

			if h.countProtocolError() {
				log.Error("too many protocol errors, closing plugin", "count", DefaultMaxProtocolErrors)
				killPlugin(h, envelope.ErrClosedPipe)

				return
			}

			continue
		}

		switch env.Kind {
		case envelope.KindResponse:
			if !h.pending.resolve(env) {
				log.Debug("discarding response with unknown id", "id", env.ID)
			}
		case envelope.KindEvent:
			log.Debug("discarding plugin-originated event", "topic", env.Topic)
		case envelope.KindRequest:
			dispatchRequest(ctx, h, log, env)
		}
	}
}

func killPlugin(h *Handle, cause error) {
	h.setStatus(StatusStopped)
	kill(h)
	h.pending.closeAll(fmt.Errorf("%w", cause))
}

func dispatchRequest(ctx context.Context, h *Handle, log *slog.Logger, req *envelope.Envelope) {
	fn, ok := serviceTable[req.Method]

	var resp *envelope.Envelope

	if !ok {
		resp = envelope.NewError(req.ID, envelope.CodeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method))
	} else {
		resp = fn(ctx, h, log, req)
	}

	if err := h.writer.Write(resp); err != nil {
		log.Error("failed to reply to plugin request", "method", req.Method, "err", err)
	}
}
