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
	"io"
	"log/slog"
)

// stderrForwarder copies a plugin's stderr, line by line, into the host
// logger. Plugins are expected to use stdio exclusively for the envelope
// protocol; stderr is diagnostic only and never parsed.
type stderrForwarder struct {
	logger   *slog.Logger
	pluginID string
}

func newStderrForwarder(logger *slog.Logger, pluginID string) io.Writer {
	pr, pw := io.Pipe()

	f := &stderrForwarder{logger: logger, pluginID: pluginID}

	go f.drain(pr)

	return pw
}

func (f *stderrForwarder) drain(pr *io.PipeReader) {
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		f.logger.Warn("plugin stderr", "plugin", f.pluginID, "line", scanner.Text())
	}
}
