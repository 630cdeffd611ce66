package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-project/conclave/internal/fspath"
	"github.com/conclave-project/conclave/internal/storage"
	"github.com/conclave-project/conclave/pkg/envelope"
)

func TestEventBusOnlyDeliversToSubscribedRunningPlugins(t *testing.T) {
	m := NewManager(fspath.Path(t.TempDir()), fspath.Path(t.TempDir()), false, testLogger())

	subscribed := newTestRig(t)
	subscribed.h.Manifest.ID = "subscribed"
	subscribed.h.setStatus(StatusRunning)
	subscribed.h.subs.add("storage.changed")

	unsubscribed := newTestRig(t)
	unsubscribed.h.Manifest.ID = "unsubscribed"
	unsubscribed.h.setStatus(StatusRunning)

	stopped := newTestRig(t)
	stopped.h.Manifest.ID = "stopped"
	stopped.h.subs.add("storage.changed")
	stopped.h.setStatus(StatusStopped)

	m.plugins["subscribed"] = subscribed.h
	m.plugins["unsubscribed"] = unsubscribed.h
	m.plugins["stopped"] = stopped.h

	go m.Events.Publish("storage.changed", map[string]any{"key": "k"})

	env := subscribed.readFromHost(t)
	assert.Equal(t, "storage.changed", env.Topic)
}

func TestStoragePutFansOutStorageChangedEvent(t *testing.T) {
	rig := newTestRig(t)
	rig.h.Manifest.ID = "fake"
	rig.h.setStatus(StatusRunning)
	rig.h.subs.add("storage.changed")

	m := NewManager(fspath.Path(t.TempDir()), fspath.Path(t.TempDir()), false, testLogger())
	m.plugins["fake"] = rig.h
	rig.h.bus = m.Events

	store, err := storage.Open(fspath.Path(t.TempDir()), "fake")
	require.NoError(t, err)
	rig.h.store = store

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runReaderLoop(ctx, rig.h, rig.hostIn, testLogger())

	putReq, err := envelope.NewRequest("put1", "storage.put", map[string]any{"key": "k", "value": "v"})
	require.NoError(t, err)
	rig.writeAsPlugin(t, putReq)

	// handleStoragePut publishes the fan-out event before dispatchRequest
	// writes the request's own response, so the event is observed first.
	event := rig.readFromHost(t)
	assert.Equal(t, "storage.changed", event.Topic)

	resp := rig.readFromHost(t)
	assert.Equal(t, "put1", resp.ID)
	assert.Nil(t, resp.Error)
}
