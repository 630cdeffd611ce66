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

	"github.com/conclave-project/conclave/internal/idgen"
	"github.com/conclave-project/conclave/pkg/envelope"
)

func newCallID() string {
	return idgen.New()
}

// Call is the host-internal facade the rest of the process uses to invoke a
// plugin-defined method: register a pending slot, write the request, and
// suspend until the reader loop delivers the matching response or the
// plugin dies.
func (m *Manager) Call(ctx context.Context, pluginID, method string, params any) (json.RawMessage, error) {
	h, ok := m.handle(pluginID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, pluginID)
	}

	if h.Status() != StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotRunning, pluginID)
	}

	id := newCallID()

	req, err := envelope.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	waiter := h.pending.register(id)

	if err := h.writer.Write(req); err != nil {
		h.pending.remove(id)
		return nil, fmt.Errorf("%w: %s", envelope.ErrClosedPipe, err)
	}

	select {
	case <-ctx.Done():
		h.pending.remove(id)
		return nil, ctx.Err()
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}

		if res.env.Error != nil {
			return nil, &MethodError{Code: res.env.Error.Code, Message: res.env.Error.Message}
		}

		return res.env.Result, nil
	}
}
