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

// Package panichandler defines the panic handler functions for conclave. A
// goroutine that defers one of these has its panic recovered, logged with
// its stack trace, and the root context canceled so that the host's other
// tasks unwind. conclaved's run function and its signal goroutine defer
// them; the goroutines of the plugin package (reader loops, timer tasks,
// start-up and shutdown workers) do not, so a panic there is not recovered.
package panichandler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// cancel is the cancel function for the program context. It must be set once
// near the top of main before any goroutines that use this package start.
var (
	cancel     context.CancelFunc //nolint:gochecknoglobals // global cancel for the root context
	cancelOnce sync.Once          //nolint:gochecknoglobals // ensures SetCancel only takes effect once
)

// SetCancel registers the cancel function for the program's root context. It
// is a no-op after the first call.
func SetCancel(c context.CancelFunc) {
	cancelOnce.Do(func() {
		cancel = c
	})
}

// Handle recovers a panic in the current goroutine, logs it, and cancels the
// root context. It must be deferred directly, with no wrapping, at the top of
// a goroutine.
func Handle() {
	//revive:disable-next-line:defer this is itself a deferred function
	r := recover()
	handlePanic(r, nil)
}

// WithStackTrace captures the current stack trace and returns a function
// that behaves like Handle but also logs the captured trace, so that a panic
// in a spawned goroutine can still be attributed to the code that spawned
// it.
func WithStackTrace() func() {
	trace := debug.Stack()

	return func() {
		//revive:disable-next-line:defer this is itself a deferred function
		r := recover()
		handlePanic(r, trace)
	}
}

func handlePanic(r any, spawnedFrom []byte) {
	if r == nil {
		return
	}

	if cancel != nil {
		cancel()
	}

	attrs := []any{"panic", r, "stack", string(debug.Stack())}
	if spawnedFrom != nil {
		attrs = append(attrs, "spawnedFrom", string(spawnedFrom))
	}

	slog.Error("conclave: recovered from panic", attrs...)
	fmt.Println("conclave encountered an internal error; see the log for details") //nolint:forbidigo // last resort
}
