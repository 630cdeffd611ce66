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
	"fmt"
	"sync"

	"github.com/conclave-project/conclave/pkg/envelope"
)

// A writerGateway is the single serialization point for everything written
// to a plugin's stdin. The reader loop (for inline replies), timer tasks,
// and host-originated callers all clone the same gateway and briefly
// acquire exclusive access for the duration of exactly one envelope; bytes
// of distinct envelopes never interleave on the wire.
type writerGateway struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newWriterGateway(w *bufio.Writer) *writerGateway {
	return &writerGateway{w: w}
}

// Write serializes and flushes env while holding the gateway's lock. It must
// never be called while already holding another plugin lock that a
// concurrent reader might need, to avoid deadlocks.
func (g *writerGateway) Write(env *envelope.Envelope) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := envelope.Write(g.w, env); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}

	return nil
}
