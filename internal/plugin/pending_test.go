package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-project/conclave/pkg/envelope"
)

func TestPendingTableResolveDeliversToWaiter(t *testing.T) {
	tbl := newPendingTable()
	ch := tbl.register("r1")

	env, err := envelope.NewResult("r1", map[string]any{"ok": true})
	require.NoError(t, err)

	assert.True(t, tbl.resolve(env))

	res := <-ch
	require.NoError(t, res.err)
	assert.Equal(t, "r1", res.env.ID)
}

func TestPendingTableResolveUnknownIDReturnsFalse(t *testing.T) {
	tbl := newPendingTable()

	env, err := envelope.NewResult("ghost", map[string]any{})
	require.NoError(t, err)

	assert.False(t, tbl.resolve(env))
}

func TestPendingTableResolveIsSingleUse(t *testing.T) {
	tbl := newPendingTable()
	tbl.register("r1")

	env, err := envelope.NewResult("r1", map[string]any{})
	require.NoError(t, err)

	assert.True(t, tbl.resolve(env))
	assert.False(t, tbl.resolve(env))
}

func TestPendingTableRemoveDropsWithoutResolving(t *testing.T) {
	tbl := newPendingTable()
	tbl.register("r1")
	tbl.remove("r1")

	env, err := envelope.NewResult("r1", map[string]any{})
	require.NoError(t, err)

	assert.False(t, tbl.resolve(env))
}

func TestPendingTableCloseAllFailsEveryWaiter(t *testing.T) {
	tbl := newPendingTable()
	a := tbl.register("a")
	b := tbl.register("b")

	sentinel := errors.New("boom")
	tbl.closeAll(sentinel)

	ra := <-a
	rb := <-b
	assert.ErrorIs(t, ra.err, sentinel)
	assert.ErrorIs(t, rb.err, sentinel)
}
