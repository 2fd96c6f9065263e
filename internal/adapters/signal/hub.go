package signal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parbhatia/gospace-sub000/internal/app"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/parbhatia/gospace-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("peer has no signaling connection")

type binding struct {
	room domain.RoomID
	user domain.UserID
}

// Hub maps (room, user) to the connection that currently speaks for that
// user and delivers server initiated events to it.
type Hub struct {
	policy  app.Policy
	metrics *metrics.Metrics

	mu       sync.RWMutex
	bindings map[binding]*Conn
}

func NewHub(policy app.Policy, m *metrics.Metrics) *Hub {
	if policy == nil {
		policy = app.SimplePolicy{Action: app.KickMember}
	}
	return &Hub{
		policy:   policy,
		metrics:  m,
		bindings: make(map[binding]*Conn),
	}
}

// Bind makes c the connection of user in room, replacing an older one.
func (h *Hub) Bind(room domain.RoomID, user domain.UserID, c *Conn) {
	h.mu.Lock()
	prev := h.bindings[binding{room, user}]
	h.bindings[binding{room, user}] = c
	h.mu.Unlock()
	c.track(room, user)
	if prev != nil && prev != c {
		prev.untrack(room)
		log.Info().Str("module", "signal").Str("room", string(room)).Str("user", string(user)).
			Str("old_conn", prev.ID()).Str("conn", c.ID()).Msg("binding moved to new connection")
	}
}

// Unbind drops the binding only if c still holds it.
func (h *Hub) Unbind(room domain.RoomID, user domain.UserID, c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bindings[binding{room, user}] != c {
		return false
	}
	delete(h.bindings, binding{room, user})
	c.untrack(room)
	return true
}

// Release unbinds everything c holds and returns, per user, the rooms c was
// still the current connection for.
func (h *Hub) Release(c *Conn) map[domain.UserID][]domain.RoomID {
	out := make(map[domain.UserID][]domain.RoomID)
	for room, user := range c.joined() {
		if h.Unbind(room, user, c) {
			out[user] = append(out[user], room)
		}
	}
	return out
}

func (h *Hub) conn(room domain.RoomID, user domain.UserID) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.bindings[binding{room, user}]
	return c, ok
}

// NotifyPeer implements core.Notifier.
func (h *Hub) NotifyPeer(room domain.RoomID, user domain.UserID, event string, payload any) error {
	c, ok := h.conn(room, user)
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrNotConnected, user, room)
	}
	err := h.deliver(c, room, user, Outbound{Event: event, Data: payload})
	if err == nil {
		h.metrics.Broadcast(event)
	}
	return err
}

// deliver sends msg and applies the backpressure policy on a full queue.
func (h *Hub) deliver(c *Conn, room domain.RoomID, user domain.UserID, msg Outbound) error {
	err := c.Send(msg)
	if !errors.Is(err, ErrBackpressure) {
		return err
	}
	action := h.policy.OnBackPressure(room, user, msg.Event)
	log.Warn().Str("module", "signal").Str("conn", c.ID()).Str("user", string(user)).
		Str("event", msg.Event).Str("action", action.String()).Msg("outbound queue full")
	switch action {
	case app.KickMember:
		c.Close()
	case app.DropFrame:
		h.metrics.FrameDropped()
	case app.NoAction:
	}
	return err
}

var _ core.Notifier = (*Hub)(nil)

// DropRoom removes every binding of a room that no longer exists.
func (h *Hub) DropRoom(room domain.RoomID) int {
	h.mu.Lock()
	var conns []*Conn
	for b, c := range h.bindings {
		if b.room == room {
			delete(h.bindings, b)
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.untrack(room)
	}
	return len(conns)
}
