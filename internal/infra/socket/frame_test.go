package socket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame("subscribe-contact", map[string]string{"contactId": "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"subscribe-contact","data":{"contactId":"c1"}}`, string(b))

	b, err = EncodeFrame("ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(b))

	_, err = EncodeFrame("", nil)
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"event":"contact-updated","data":{"id":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "contact-updated", f.Event)
	assert.JSONEq(t, `{"id":"c1"}`, string(f.Data))

	f, err = DecodeFrame([]byte(` ["new-message", {"id":"m1"}] `))
	require.NoError(t, err)
	assert.Equal(t, "new-message", f.Event)
	assert.JSONEq(t, `{"id":"m1"}`, string(f.Data))

	f, err = DecodeFrame([]byte(`["pong"]`))
	require.NoError(t, err)
	assert.Equal(t, "pong", f.Event)
	assert.Nil(t, f.Data)

	for _, bad := range []string{`{}`, `[]`, `[1]`, `nope`, `{"data":1}`} {
		_, err := DecodeFrame([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "server-initiated", reasonOf(json.RawMessage(`"server-initiated"`)))
	assert.Equal(t, "bad token", reasonOf(json.RawMessage(`{"message":"bad token"}`)))
	assert.Equal(t, "io server disconnect", reasonOf(json.RawMessage(`{"reason":"io server disconnect"}`)))
	assert.Equal(t, "", reasonOf(nil))
}
