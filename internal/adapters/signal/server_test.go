package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parbhatia/gospace-sub000/internal/adapters/memory"
	"github.com/parbhatia/gospace-sub000/internal/app"
	"github.com/parbhatia/gospace-sub000/internal/app/orch"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url      string
	registry *app.SessionRegistry
	hub      *Hub
	engine   *memory.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	engine := memory.NewEngine()
	pool, err := app.NewWorkerPool(ctx, engine, app.PoolOptions{Count: 1})
	require.NoError(t, err)
	hub := NewHub(app.SimplePolicy{Action: app.KickMember}, nil)
	registry := app.NewSessionRegistry(pool, hub, app.RegistryOptions{ReapEmpty: true})
	srv := NewServer(orch.New(registry, true), hub, NewJoinRateLimiter(3, time.Minute), nil, Options{})

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { srv.HandleSignal(ctx, c) })
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		registry.Close(context.Background())
		pool.Close()
	})
	return &testServer{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		registry: registry,
		hub:      hub,
		engine:   engine,
	}
}

type message struct {
	Event string          `json:"event"`
	Ack   *uint64         `json:"ack"`
	OK    *bool           `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *WireError      `json:"error"`
}

type client struct {
	t       *testing.T
	ws      *websocket.Conn
	next    uint64
	pending []message
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) read() message {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m message
	require.NoError(c.t, c.ws.ReadJSON(&m))
	return m
}

func (c *client) request(event string, data any) message {
	c.t.Helper()
	c.next++
	ack := c.next
	require.NoError(c.t, c.ws.WriteJSON(map[string]any{"event": event, "ack": ack, "data": data}))
	for {
		m := c.read()
		if m.Event == "ack" && m.Ack != nil && *m.Ack == ack {
			return m
		}
		c.pending = append(c.pending, m)
	}
}

func (c *client) notify(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *client) waitEvent(event string) message {
	c.t.Helper()
	for i, m := range c.pending {
		if m.Event == event {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return m
		}
	}
	for {
		m := c.read()
		if m.Event == event {
			return m
		}
		c.pending = append(c.pending, m)
	}
}

func scope(room, user string) map[string]any {
	return map[string]any{"roomId": room, "userMeta": map[string]any{"id": user, "name": user}}
}

func with(base map[string]any, kv ...any) map[string]any {
	out := make(map[string]any, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

func TestSignalSession(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts.url)
	b := dial(t, ts.url)

	res := a.request("requestRouterCapabilities", scope("r1", "a"))
	require.True(t, *res.OK)
	var caps struct {
		Codecs []map[string]any `json:"codecs"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &caps))
	assert.NotEmpty(t, caps.Codecs)

	res = b.request("requestRouterCapabilities", scope("r1", "b"))
	require.True(t, *res.OK)
	a.waitEvent("roomUpdate")

	res = a.request("requestCreateTransport", with(scope("r1", "a"), "direction", "send"))
	require.True(t, *res.OK)
	var transport struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &transport))
	require.NotEmpty(t, transport.ID)

	res = a.request("addProducer", with(scope("r1", "a"),
		"transportId", transport.ID,
		"kind", "audio",
		"rtpParameters", map[string]any{"codecs": []map[string]any{
			{"mimeType": "audio/opus", "payloadType": 111, "clockRate": 48000, "channels": 2},
		}},
	))
	require.True(t, *res.OK, "addProducer failed: %+v", res.Error)
	var produced struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &produced))

	ev := b.waitEvent("newProducer")
	var np struct {
		ProducerID string `json:"producerId"`
		PeerID     string `json:"peerId"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &np))
	assert.Equal(t, produced.ID, np.ProducerID)
	assert.Equal(t, "a", np.PeerID)

	// Fire-and-forget messages get no ack; the ping answers with pong.
	a.notify("producerUpdate", with(scope("r1", "a"), "id", produced.ID, "updateType", "pause"))
	a.notify("ping", nil)
	assert.Equal(t, "pong", a.waitEvent("pong").Event)
}

func TestSignalErrors(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts.url)

	res := a.request("requestCreateTransport", with(scope("nowhere", "a"), "direction", "send"))
	require.False(t, *res.OK)
	assert.Equal(t, "RoomNotFound", res.Error.Code)

	res = a.request("doSomethingOdd", nil)
	require.False(t, *res.OK)
	assert.Equal(t, "BadPayload", res.Error.Code)

	res = a.request("addProducer", "not an object")
	require.False(t, *res.OK)
	assert.Equal(t, "BadPayload", res.Error.Code)

	a.request("requestRouterCapabilities", scope("r1", "a"))
	res = a.request("consumeExistingProducers", scope("r1", "a"))
	require.False(t, *res.OK)
	assert.Equal(t, "TransportNotReady", res.Error.Code)
}

func TestSignalJoinRateLimit(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts.url)

	for i := 0; i < 3; i++ {
		res := a.request("requestRouterCapabilities", scope("r1", "a"))
		require.True(t, *res.OK)
	}
	res := a.request("requestRouterCapabilities", scope("r1", "a"))
	require.False(t, *res.OK)
	assert.Equal(t, "RateLimited", res.Error.Code)
}

func TestSignalDisconnectCleansUp(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts.url)
	b := dial(t, ts.url)
	a.request("requestRouterCapabilities", scope("r1", "a"))
	a.request("requestRouterCapabilities", scope("r2", "a"))
	b.request("requestRouterCapabilities", scope("r2", "b"))

	require.NoError(t, a.ws.Close())

	assert.Eventually(t, func() bool { return !ts.registry.RoomExists("r1") }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		room, err := ts.registry.GetRoom("r2")
		return err == nil && room.PeerCount() == 1 && room.HasPeer(domain.UserID("b"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalMsgpack(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts.url)

	raw, err := Msgpack.Marshal(map[string]any{"event": "requestRouterCapabilities", "ack": 1, "data": scope("r1", "a")})
	require.NoError(t, err)
	require.NoError(t, a.ws.WriteMessage(websocket.BinaryMessage, raw))

	require.NoError(t, a.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := a.ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	var m map[string]any
	require.NoError(t, Msgpack.Unmarshal(data, &m))
	assert.Equal(t, "ack", m["event"])
	assert.Equal(t, true, m["ok"])
}

func TestSignalRoomRemovalDropsBindings(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts.url)
	b := dial(t, ts.url)
	a.request("requestRouterCapabilities", scope("r1", "a"))
	a.request("requestRouterCapabilities", scope("r2", "a"))
	b.request("requestRouterCapabilities", scope("r2", "b"))

	// removeRoom is fire-and-forget.
	b.notify("removeRoom", scope("r2", "b"))
	assert.Eventually(t, func() bool {
		_, bound := ts.hub.conn("r2", "b")
		return !ts.registry.RoomExists("r2") && !bound
	}, 2*time.Second, 10*time.Millisecond)
	_, bound := ts.hub.conn("r2", "a")
	assert.False(t, bound)

	room, err := ts.registry.GetRoom("r1")
	require.NoError(t, err)
	_, bound = ts.hub.conn("r1", "a")
	require.True(t, bound)
	require.True(t, ts.engine.Kill(room.WorkerID(), errors.New("crash")))
	assert.Eventually(t, func() bool {
		_, bound := ts.hub.conn("r1", "a")
		return !ts.registry.RoomExists("r1") && !bound
	}, 2*time.Second, 10*time.Millisecond)
}
