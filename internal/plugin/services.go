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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conclave-project/conclave/pkg/envelope"
)

// serviceFunc handles one inbound request for a running plugin and returns
// the response envelope to write back. It never returns an error itself:
// failures are encoded as error response envelopes so that one bad request
// never kills the reader loop.
type serviceFunc func(ctx context.Context, h *Handle, logger *slog.Logger, req *envelope.Envelope) *envelope.Envelope

// serviceTable is the method-name dispatch table the reader loop consults
// for every inbound request. Adding a service means adding an entry here.
var serviceTable = map[string]serviceFunc{
	"log.write":          handleLogWrite,
	"event.subscribe":    handleEventSubscribe,
	"timer.set_interval": handleTimerSetInterval,
	"storage.get":        handleStorageGet,
	"storage.put":        handleStoragePut,
}

func okResult(id string) *envelope.Envelope {
	env, err := envelope.NewResult(id, map[string]any{"ok": true})
	if err != nil {
		// map[string]any{"ok": true} always marshals; this path is
		// unreachable in practice.
		return envelope.NewError(id, envelope.CodeInternalError, err.Error())
	}

	return env
}

type logWriteParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func handleLogWrite(_ context.Context, h *Handle, logger *slog.Logger, req *envelope.Envelope) *envelope.Envelope {
	var p logWriteParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, fmt.Sprintf("invalid params: %s", err))
	}

	logger.Log(context.Background(), logLevel(p.Level), p.Message, "plugin", h.Manifest.ID)

	return okResult(req.ID)
}

// logLevel maps the plugin's case-insensitive level name to a slog level,
// treating anything unrecognized as INFO per the wire contract.
func logLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "ERROR":
		return slog.LevelError
	case "WARN":
		return slog.LevelWarn
	case "DEBUG":
		return slog.LevelDebug
	case "TRACE":
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo
	}
}

type eventSubscribeParams struct {
	Topics []string `json:"topics"`
}

func handleEventSubscribe(_ context.Context, h *Handle, _ *slog.Logger, req *envelope.Envelope) *envelope.Envelope {
	var p eventSubscribeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, fmt.Sprintf("invalid params: %s", err))
	}

	for _, t := range p.Topics {
		h.subs.add(t)
	}

	return okResult(req.ID)
}

type timerSetIntervalParams struct {
	ID     string `json:"id"`
	Millis int64  `json:"millis"`
}

func handleTimerSetInterval(ctx context.Context, h *Handle, _ *slog.Logger, req *envelope.Envelope) *envelope.Envelope {
	var p timerSetIntervalParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, fmt.Sprintf("invalid params: %s", err))
	}

	if p.Millis <= 0 {
		return envelope.NewError(req.ID, envelope.CodeInternalError, "millis must be positive")
	}

	h.timers.set(ctx, p.ID, time.Duration(p.Millis)*time.Millisecond, h.writer)

	return okResult(req.ID)
}

type storageGetParams struct {
	Key string `json:"key"`
}

func handleStorageGet(_ context.Context, h *Handle, _ *slog.Logger, req *envelope.Envelope) *envelope.Envelope {
	if h.store == nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, "storage service disabled")
	}

	var p storageGetParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, fmt.Sprintf("invalid params: %s", err))
	}

	v, ok := h.store.Get(p.Key)
	if !ok {
		v = nil
	}

	env, err := envelope.NewResult(req.ID, map[string]any{"value": v})
	if err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, err.Error())
	}

	return env
}

type storagePutParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func handleStoragePut(_ context.Context, h *Handle, _ *slog.Logger, req *envelope.Envelope) *envelope.Envelope {
	if h.store == nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, "storage service disabled")
	}

	var p storagePutParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, fmt.Sprintf("invalid params: %s", err))
	}

	if err := h.store.Put(p.Key, p.Value); err != nil {
		return envelope.NewError(req.ID, envelope.CodeInternalError, err.Error())
	}

	if h.bus != nil {
		h.bus.Publish("storage.changed", map[string]any{"plugin": h.Manifest.ID, "key": p.Key})
	}

	return okResult(req.ID)
}
