package signal

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/parbhatia/gospace-sub000/internal/app/orch"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecFor(t *testing.T) {
	c, err := CodecFor(websocket.TextMessage)
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())
	c, err = CodecFor(websocket.BinaryMessage)
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())
	_, err = CodecFor(websocket.PingMessage)
	assert.ErrorIs(t, err, domain.ErrBadPayload)
}

func TestJSONEnvelope(t *testing.T) {
	env, err := JSON.DecodeEnvelope([]byte(`{"event":"removePeer","ack":7,"data":{"roomId":"r1","userMeta":{"id":"u1","name":"Ann"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "removePeer", env.Event)
	require.NotNil(t, env.Ack)
	assert.EqualValues(t, 7, *env.Ack)

	var s orch.Scope
	require.NoError(t, JSON.Unmarshal(env.Data, &s))
	assert.Equal(t, domain.RoomID("r1"), s.RoomID)
	assert.Equal(t, "Ann", s.User.Name)

	env, err = JSON.DecodeEnvelope([]byte(`{"event":"ping"}`))
	require.NoError(t, err)
	assert.Nil(t, env.Ack)
	assert.NoError(t, JSON.Unmarshal(env.Data, &s))

	_, err = JSON.DecodeEnvelope([]byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrBadPayload)
}

func TestMsgpackUsesJSONFieldNames(t *testing.T) {
	raw, err := Msgpack.Marshal(map[string]any{
		"event": "requestCreateTransport",
		"ack":   3,
		"data": orch.TransportRequest{
			Scope:     orch.Scope{RoomID: "r1", User: domain.UserMeta{ID: "u1"}},
			Direction: domain.DirectionSend,
		},
	})
	require.NoError(t, err)

	env, err := Msgpack.DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "requestCreateTransport", env.Event)
	require.NotNil(t, env.Ack)
	assert.EqualValues(t, 3, *env.Ack)

	var m map[string]any
	require.NoError(t, Msgpack.Unmarshal(env.Data, &m))
	assert.Equal(t, "r1", m["roomId"])
	assert.Equal(t, "send", m["direction"])

	var req orch.TransportRequest
	require.NoError(t, Msgpack.Unmarshal(env.Data, &req))
	assert.Equal(t, domain.UserID("u1"), req.User.ID)

	ok := true
	out, err := Msgpack.Marshal(Outbound{Event: "ack", OK: &ok})
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, Msgpack.Unmarshal(out, &back))
	assert.Equal(t, "ack", back["event"])
	assert.Equal(t, true, back["ok"])
	assert.NotContains(t, back, "error")
}
