package plugin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-project/conclave/pkg/envelope"
)

func TestHandshakeSucceedsOnWellBehavedPlugin(t *testing.T) {
	rig := newTestRig(t)

	done := make(chan error, 1)
	go func() { done <- handshake(rig.h, rig.hostIn) }()

	hello := rig.readFromHost(t)
	assert.Equal(t, envelope.KindEvent, hello.Kind)
	assert.Equal(t, "core.hello", hello.Topic)

	var helloPayload struct {
		APIVersion string   `json:"api_version"`
		Services   []string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(hello.Payload, &helloPayload))
	assert.Equal(t, "1", helloPayload.APIVersion)
	assert.Contains(t, helloPayload.Services, "log")
	assert.Contains(t, helloPayload.Services, "timer")

	initReq, err := envelope.NewRequest("r1", "plugin.init", map[string]any{
		"metadata": map[string]any{"id": "fake", "name": "Fake", "version": "0", "needs": []string{}},
	})
	require.NoError(t, err)
	rig.writeAsPlugin(t, initReq)

	initResp := rig.readFromHost(t)
	assert.Equal(t, envelope.KindResponse, initResp.Kind)
	assert.Equal(t, "r1", initResp.ID)
	assert.Nil(t, initResp.Error)

	startReq, err := envelope.NewRequest("r2", "plugin.start", map[string]any{})
	require.NoError(t, err)
	rig.writeAsPlugin(t, startReq)

	startResp := rig.readFromHost(t)
	assert.Equal(t, "r2", startResp.ID)
	assert.Nil(t, startResp.Error)

	ready := rig.readFromHost(t)
	assert.Equal(t, envelope.KindEvent, ready.Kind)
	assert.Equal(t, "system.ready", ready.Topic)

	require.NoError(t, <-done)
}

func TestHandshakeFailsOnWrongMethod(t *testing.T) {
	rig := newTestRig(t)

	done := make(chan error, 1)
	go func() { done <- handshake(rig.h, rig.hostIn) }()

	rig.readFromHost(t) // core.hello

	badReq, err := envelope.NewRequest("r1", "not.init", map[string]any{})
	require.NoError(t, err)
	rig.writeAsPlugin(t, badReq)

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeViolation)
}
