package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ValidFrame(t *testing.T) {
	env, err := Decode([]byte(`{"event":"code-change","data":{"roomId":"R1","text":"x := 1"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventCodeChange, env.Event)

	var p CodeChange
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "R1", p.RoomID)
	assert.Equal(t, "x := 1", p.Text)
}

func TestDecode_RejectsMalformedAndUnnamed(t *testing.T) {
	_, err := Decode([]byte(`{broken`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"data":{"roomId":"R1"}}`))
	assert.Error(t, err, "frames without an event name are not routable")
}

func TestEncode_RoundTrips(t *testing.T) {
	frame, err := Encode(EventUserTyping, UserTyping{DisplayName: "Alice", IsTyping: true, Typing: []string{"Alice"}})
	require.NoError(t, err)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, EventUserTyping, env.Event)

	var p UserTyping
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.IsTyping)
	assert.Equal(t, []string{"Alice"}, p.Typing)
}
