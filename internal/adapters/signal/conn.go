package signal

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parbhatia/gospace-sub000/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type frame struct {
	messageType int
	data        []byte
}

// Conn is one signaling websocket. The read pump owns reads; everything else
// goes through TrySend and the write pump.
type Conn struct {
	id    string
	ws    *websocket.Conn
	send  chan frame
	codec Codec

	mu     sync.RWMutex
	closed bool
	// rooms records which user this connection joined as, per room.
	rooms map[domain.RoomID]domain.UserID
}

func newConn(ws *websocket.Conn, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 32
	}
	return &Conn{
		id:    uuid.NewString(),
		ws:    ws,
		send:  make(chan frame, buffer),
		codec: JSON,
		rooms: make(map[domain.RoomID]domain.UserID),
	}
}

func (c *Conn) ID() string { return c.id }

// Codec is the codec of the last frame the client sent.
func (c *Conn) Codec() Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codec
}

func (c *Conn) setCodec(codec Codec) {
	c.mu.Lock()
	c.codec = codec
	c.mu.Unlock()
}

// TrySend queues a frame without blocking.
func (c *Conn) TrySend(f frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Send encodes msg with the connection's codec and queues it.
func (c *Conn) Send(msg Outbound) error {
	codec := c.Codec()
	b, err := codec.Marshal(msg)
	if err != nil {
		return err
	}
	return c.TrySend(frame{messageType: codec.MessageType(), data: b})
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

func (c *Conn) track(room domain.RoomID, user domain.UserID) {
	c.mu.Lock()
	c.rooms[room] = user
	c.mu.Unlock()
}

func (c *Conn) untrack(room domain.RoomID) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Conn) joined() map[domain.RoomID]domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.RoomID]domain.UserID, len(c.rooms))
	for r, u := range c.rooms {
		out[r] = u
	}
	return out
}
