package envelope_test

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-project/conclave/pkg/envelope"
)

func TestRoundTrip(t *testing.T) {
	env, err := envelope.NewRequest("r1", "plugin.init", map[string]any{"a": 1})
	require.NoError(t, err)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, envelope.Write(w, env))

	got, err := envelope.Read(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, env.Kind, got.Kind)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Method, got.Method)
	assert.JSONEq(t, string(env.Params), string(got.Params))
}

func TestReadBlankLineIsFramingError(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("\n"))

	_, err := envelope.Read(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, envelope.ErrFraming)
}

func TestReadEOFIsClosedPipe(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString(""))

	_, err := envelope.Read(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, envelope.ErrClosedPipe)
}

func TestValidateRequest(t *testing.T) {
	e := &envelope.Envelope{Kind: envelope.KindRequest, ID: "1", Method: "log.write"}
	assert.NoError(t, e.Validate())

	e = &envelope.Envelope{Kind: envelope.KindRequest, ID: "1"}
	assert.Error(t, e.Validate())
}

func TestValidateResponseExactlyOneOfResultError(t *testing.T) {
	ok := &envelope.Envelope{Kind: envelope.KindResponse, ID: "1", Result: []byte(`{"ok":true}`)}
	assert.NoError(t, ok.Validate())

	both := &envelope.Envelope{
		Kind:   envelope.KindResponse,
		ID:     "1",
		Result: []byte(`{"ok":true}`),
		Error:  &envelope.Error{Code: -1, Message: "x"},
	}
	assert.Error(t, both.Validate())

	neither := &envelope.Envelope{Kind: envelope.KindResponse, ID: "1"}
	assert.Error(t, neither.Validate())
}

func TestValidateEvent(t *testing.T) {
	e := &envelope.Envelope{Kind: envelope.KindEvent, Topic: "system.ready"}
	assert.NoError(t, e.Validate())

	e = &envelope.Envelope{Kind: envelope.KindEvent}
	assert.Error(t, e.Validate())
}

func TestErrorFormatting(t *testing.T) {
	e := &envelope.Error{Code: envelope.CodeMethodNotFound, Message: "unknown method nope"}
	assert.Contains(t, e.Error(), "unknown method nope")
	assert.Contains(t, e.Error(), "-32601")
}

func TestNewErrorEnvelope(t *testing.T) {
	e := envelope.NewError("r1", envelope.CodeMethodNotFound, "unknown method nope")
	require.NotNil(t, e.Error)
	assert.Equal(t, envelope.CodeMethodNotFound, e.Error.Code)
	assert.True(t, errors.Is(envelope.ErrFraming, envelope.ErrFraming))
}
