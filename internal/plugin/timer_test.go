package plugin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerRegistryDeliversTicks(t *testing.T) {
	rig := newTestRig(t)
	rig.h.subs.add("timer.tick")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.h.timers.set(ctx, "t", 20*time.Millisecond, rig.h.writer)

	var last int64

	for i := 0; i < 2; i++ {
		env := rig.readFromHost(t)
		assert.Equal(t, "timer.tick", env.Topic)

		var payload struct {
			ID    string `json:"id"`
			NowMs int64  `json:"now_ms"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, "t", payload.ID)
		assert.GreaterOrEqual(t, payload.NowMs, last)
		last = payload.NowMs
	}
}

func TestTimerRegistrySetReplacesPreviousTimer(t *testing.T) {
	rig := newTestRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.h.timers.set(ctx, "t", 10*time.Millisecond, rig.h.writer)
	rig.h.timers.set(ctx, "t", time.Hour, rig.h.writer)

	rig.h.timers.mu.Lock()
	n := len(rig.h.timers.cancel)
	rig.h.timers.mu.Unlock()

	assert.Equal(t, 1, n)
}
