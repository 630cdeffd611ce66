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
	"errors"
	"fmt"
)

// Sentinel errors for the plugin host. Propagation policy: failures within
// one plugin never cascade to others, and host callers always receive one of
// these typed failures rather than a panic.
var (
	// ErrSpawnFailure means the child process could not be started.
	ErrSpawnFailure = errors.New("plugin: spawn failure")

	// ErrHandshakeViolation means the child sent an unexpected envelope kind,
	// wrong method, or missing id during the ordered handshake.
	ErrHandshakeViolation = errors.New("plugin: handshake violation")

	// ErrPluginNotFound means Call targeted a plugin id the manager does not
	// know about.
	ErrPluginNotFound = errors.New("plugin: not found")

	// ErrPluginNotRunning means Call targeted a plugin that is not currently
	// Running.
	ErrPluginNotRunning = errors.New("plugin: not running")
)

// A MethodError wraps a response's error object, surfaced to the host caller
// with both the code and the message preserved.
type MethodError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *MethodError) Error() string {
	return fmt.Sprintf("plugin method error %d: %s", e.Code, e.Message)
}
