package signal

import (
	"testing"

	"github.com/parbhatia/gospace-sub000/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindUnbind(t *testing.T) {
	h := NewHub(nil, nil)
	old, fresh := newConn(nil, 4), newConn(nil, 4)

	h.Bind("r1", "u1", old)
	h.Bind("r1", "u1", fresh)
	assert.False(t, h.Unbind("r1", "u1", old), "stale connection must not drop the new binding")
	assert.Empty(t, old.joined())

	require.NoError(t, h.NotifyPeer("r1", "u1", "roomUpdate", nil))
	assert.Len(t, fresh.send, 1)
	assert.Empty(t, old.send)

	assert.True(t, h.Unbind("r1", "u1", fresh))
	assert.ErrorIs(t, h.NotifyPeer("r1", "u1", "roomUpdate", nil), ErrNotConnected)
}

func TestReleaseOnlyCurrentBindings(t *testing.T) {
	h := NewHub(nil, nil)
	a, b := newConn(nil, 4), newConn(nil, 4)
	h.Bind("r1", "u1", a)
	h.Bind("r2", "u1", a)
	h.Bind("r2", "u1", b)

	released := h.Release(a)
	assert.Equal(t, []string{"r1"}, roomsOf(released["u1"]))

	_, ok := h.conn("r2", "u1")
	assert.True(t, ok)
}

func TestDropRoom(t *testing.T) {
	h := NewHub(nil, nil)
	a, b := newConn(nil, 4), newConn(nil, 4)
	h.Bind("r1", "u1", a)
	h.Bind("r1", "u2", b)
	h.Bind("r2", "u1", a)

	assert.Equal(t, 2, h.DropRoom("r1"))
	assert.Len(t, a.joined(), 1)
	assert.Empty(t, b.joined())
}

func TestBackpressureKick(t *testing.T) {
	h := NewHub(app.SimplePolicy{Action: app.KickMember}, nil)
	c := newConn(nil, 1)
	h.Bind("r1", "u1", c)

	require.NoError(t, h.NotifyPeer("r1", "u1", "newProducer", nil))
	assert.ErrorIs(t, h.NotifyPeer("r1", "u1", "newProducer", nil), ErrBackpressure)
	assert.ErrorIs(t, c.Send(Outbound{Event: "x"}), ErrConnClosed)
}

func TestBackpressureDrop(t *testing.T) {
	h := NewHub(app.SimplePolicy{Action: app.DropFrame}, nil)
	c := newConn(nil, 1)
	h.Bind("r1", "u1", c)

	require.NoError(t, h.NotifyPeer("r1", "u1", "newProducer", nil))
	assert.ErrorIs(t, h.NotifyPeer("r1", "u1", "newProducer", nil), ErrBackpressure)

	<-c.send
	assert.NoError(t, h.NotifyPeer("r1", "u1", "newProducer", nil))
}

func roomsOf[T ~string](ids []T) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
