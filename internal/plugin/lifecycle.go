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
	"os/exec"

	"github.com/anttikivi/semver"

	"github.com/conclave-project/conclave/pkg/envelope"
)

const apiVersion = "1"

// hostAPIVersion is the parsed form of apiVersion, the one the host
// advertises in core.hello.
var hostAPIVersion = semver.MustParse(apiVersion + ".0.0")

// validateAPIVersion parses h's declared api_version and rejects the plugin
// unless it is exactly the version the host advertises. A plugin with no
// declared api_version is rejected outright: the field exists so the host
// never has to guess at compatibility.
func validateAPIVersion(h *Handle) error {
	declared, err := semver.ParseLax(h.Manifest.APIVersion)
	if err != nil {
		return fmt.Errorf("%w: %s: invalid api_version %q: %s",
			ErrHandshakeViolation, h.Manifest.ID, h.Manifest.APIVersion, err)
	}

	if !declared.Equal(hostAPIVersion) {
		return fmt.Errorf("%w: %s: declares api_version %s, host is %s",
			ErrHandshakeViolation, h.Manifest.ID, declared, hostAPIVersion)
	}

	return nil
}

// offeredServices is advertised in core.hello. storage is only listed when
// the handle actually has a store attached, so the payload never promises a
// service the reader loop cannot serve.
func offeredServices(h *Handle) []string {
	services := []string{"log", "event", "timer"}
	if h.store != nil {
		services = append(services, "storage")
	}

	return services
}

// start performs the full subprocess spawn and three-phase handshake for h,
// synchronously. On success, h.status is Running and a reader loop goroutine
// owns h's stdout. On any failure, the child is killed and h.status is left
// Discovered (spawn failure) or set to Stopped (handshake failure after a
// successful spawn).
func start(ctx context.Context, h *Handle, logger *slog.Logger) error {
	cmd := exec.CommandContext(ctx, h.Exec.String(), "--stdio")
	cmd.Dir = h.Dir.String()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSpawnFailure, h.Manifest.ID, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSpawnFailure, h.Manifest.ID, err)
	}

	cmd.Stderr = newStderrForwarder(logger, h.Manifest.ID)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSpawnFailure, h.Manifest.ID, err)
	}

	h.cmd = cmd
	h.writer = newWriterGateway(bufio.NewWriter(stdin))
	reader := bufio.NewReader(stdout)

	if err := handshake(h, reader); err != nil {
		_ = cmd.Process.Kill()
		h.setStatus(StatusStopped)

		return err
	}

	h.setStatus(StatusRunning)

	go runReaderLoop(ctx, h, reader, logger)

	return nil
}

func handshake(h *Handle, r *bufio.Reader) error {
	if err := validateAPIVersion(h); err != nil {
		return err
	}

	hello, err := envelope.NewEvent("core.hello", map[string]any{
		"api_version": apiVersion,
		"services":    offeredServices(h),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: failed to build core.hello: %s", ErrHandshakeViolation, h.Manifest.ID, err)
	}

	if err := h.writer.Write(hello); err != nil {
		return fmt.Errorf("%w: %s: failed to send core.hello: %s", ErrHandshakeViolation, h.Manifest.ID, err)
	}

	if err := expectRequest(h, r, "plugin.init"); err != nil {
		return err
	}

	if err := expectRequest(h, r, "plugin.start"); err != nil {
		return err
	}

	ready, err := envelope.NewEvent("system.ready", nil)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to build system.ready: %s", ErrHandshakeViolation, h.Manifest.ID, err)
	}

	if err := h.writer.Write(ready); err != nil {
		return fmt.Errorf("%w: %s: failed to send system.ready: %s", ErrHandshakeViolation, h.Manifest.ID, err)
	}

	return nil
}

// expectRequest reads exactly one envelope, asserts it is a request for the
// given method, and replies with {ok: true} using the same id.
func expectRequest(h *Handle, r *bufio.Reader, method string) error {
	env, err := envelope.Read(r)
	if err != nil {
		return fmt.Errorf("%w: %s: waiting for %s: %s", ErrHandshakeViolation, h.Manifest.ID, method, err)
	}

	if env.Kind != envelope.KindRequest || env.Method != method || env.ID == "" {
		return fmt.Errorf("%w: %s: expected request %s, got kind=%s method=%s",
			ErrHandshakeViolation, h.Manifest.ID, method, env.Kind, env.Method)
	}

	resp := okResult(env.ID)
	if err := h.writer.Write(resp); err != nil {
		return fmt.Errorf("%w: %s: replying to %s: %s", ErrHandshakeViolation, h.Manifest.ID, method, err)
	}

	return nil
}

// stop asks a running plugin to exit via plugin.stop and, if it does not do
// so promptly, kills the process. It tolerates the plugin already being
// gone.
func stop(ctx context.Context, h *Handle) error {
	if h.Status() != StatusRunning {
		return nil
	}

	req, err := envelope.NewRequest(newCallID(), "plugin.stop", map[string]any{})
	if err == nil && h.writer != nil {
		_ = h.writer.Write(req)
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		kill(h)
	}

	if h.cmd != nil && h.cmd.Process != nil {
		if werr := h.cmd.Wait(); werr != nil {
			var exitErr *exec.ExitError
			if !errors.As(werr, &exitErr) {
				return fmt.Errorf("failed waiting for plugin %s to exit: %w", h.Manifest.ID, werr)
			}
		}
	}

	return nil
}

// kill forcibly terminates a plugin's process without waiting for a
// cooperative exit. ShutdownAll uses it when stop fails, and the reader loop
// uses it (via killPlugin) when it gives up on a plugin.
func kill(h *Handle) {
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
}
