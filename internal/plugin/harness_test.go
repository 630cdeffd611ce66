package plugin

import (
	"bufio"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conclave-project/conclave/pkg/envelope"
	"github.com/conclave-project/conclave/pkg/manifest"
)

// testRig wires a Handle's writer and a reader-side bufio.Reader together
// through a pair of in-memory pipes, standing in for a plugin's stdio
// without spawning a real subprocess. hostIn is what the reader loop reads
// from (the fake plugin writes to pluginOut, its other end); the Handle's
// writer is the fake plugin's stdin (the host writes to it, the fake plugin
// reads from pluginIn).
type testRig struct {
	h *Handle

	pluginIn  *bufio.Reader // fake plugin reads host-originated envelopes here
	pluginOut io.Writer     // fake plugin writes its own envelopes here

	hostIn *bufio.Reader // reader loop reads from here
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	pluginReadsHost, hostToPlugin := io.Pipe()
	hostReadsPlugin, pluginWritesHost := io.Pipe()

	h := newHandle(manifest.Manifest{ID: "fake", Name: "Fake", Version: "0", APIVersion: "1"}, "", "")
	h.writer = newWriterGateway(bufio.NewWriter(hostToPlugin))

	t.Cleanup(func() {
		_ = hostToPlugin.Close()
		_ = pluginWritesHost.Close()
	})

	return &testRig{
		h:         h,
		pluginIn:  bufio.NewReader(pluginReadsHost),
		pluginOut: pluginWritesHost,
		hostIn:    bufio.NewReader(hostReadsPlugin),
	}
}

// writeAsPlugin sends env as if the fake plugin produced it.
func (r *testRig) writeAsPlugin(t *testing.T, env *envelope.Envelope) {
	t.Helper()

	w := bufio.NewWriter(r.pluginOut)
	require.NoError(t, envelope.Write(w, env))
}

// readFromHost reads the next envelope the host wrote, as the fake plugin.
func (r *testRig) readFromHost(t *testing.T) *envelope.Envelope {
	t.Helper()

	env, err := envelope.Read(r.pluginIn)
	require.NoError(t, err)

	return env
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
