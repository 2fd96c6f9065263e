package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Room is one routing context and the peers joined to it.
// It owns its peers; the router is closed when the room is closed.
type Room struct {
	id     domain.RoomID
	name   domain.RoomName
	router Router
	notify Notifier

	mu     sync.RWMutex
	peers  map[domain.UserID]*Peer
	closed bool
}

func NewRoom(id domain.RoomID, name domain.RoomName, router Router, notify Notifier) *Room {
	if name == "" {
		name = domain.RoomName(id)
	}
	return &Room{
		id:     id,
		name:   name,
		router: router,
		notify: notify,
		peers:  make(map[domain.UserID]*Peer),
	}
}

func (r *Room) ID() domain.RoomID     { return r.id }
func (r *Room) Name() domain.RoomName { return r.name }
func (r *Room) WorkerID() string      { return r.router.WorkerID() }
func (r *Room) Router() Router        { return r.router }

func (r *Room) RoutingCapabilities() RtpCapabilities {
	return r.router.RtpCapabilities()
}

// CreatePeer registers a new peer bound to this room's router. A peer
// without a name is known by its id.
func (r *Room) CreatePeer(meta domain.UserMeta) (*Peer, error) {
	user, err := domain.NewUserMeta(string(meta.ID), meta.Name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, r.id)
	}
	if _, ok := r.peers[user.ID]; ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrDuplicatePeer, user.ID, r.id)
	}
	p := newPeer(r, user)
	r.peers[user.ID] = p
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(user.ID)).Msg("peer created")
	return p, nil
}

func (r *Room) GetPeer(userID domain.UserID) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", domain.ErrPeerNotFound, userID, r.id)
	}
	return p, nil
}

func (r *Room) HasPeer(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[userID]
	return ok
}

// RemovePeer releases the peer's resources and drops it. It reports whether a
// peer was removed; removing an absent peer is a no-op.
func (r *Room) RemovePeer(ctx context.Context, userID domain.UserID) bool {
	r.mu.Lock()
	p, ok := r.peers[userID]
	delete(r.peers, userID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.Release(ctx)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(userID)).Msg("peer removed")
	return true
}

// RemoveAllPeers releases every peer and returns once all of them are drained.
func (r *Room) RemoveAllPeers(ctx context.Context) {
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[domain.UserID]*Peer)
	r.mu.Unlock()

	var g errgroup.Group
	for _, p := range peers {
		g.Go(func() error {
			p.Release(ctx)
			return nil
		})
	}
	_ = g.Wait()
	if len(peers) > 0 {
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Int("peers", len(peers)).Msg("all peers removed")
	}
}

// Close drains the room and closes its router. Calling it twice is harmless.
func (r *Room) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.RemoveAllPeers(ctx)
	return r.router.Close()
}

// CloseIfEmpty marks the room closed when it has no peers, so no peer can be
// created in a room that is about to be reaped.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Others returns every peer except userID.
func (r *Room) Others(userID domain.UserID) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if id == userID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Room) Summary() domain.RoomSummary {
	r.mu.RLock()
	members := make([]domain.MemberSummary, 0, len(r.peers))
	for _, p := range r.peers {
		members = append(members, p.Summary())
	}
	r.mu.RUnlock()
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return domain.RoomSummary{
		ID:        r.id,
		Name:      r.name,
		PeerCount: len(members),
		Members:   members,
		WorkerID:  r.WorkerID(),
	}
}

// Broadcast sends event to every peer except from and returns how many
// notifications were handed to the notifier.
func (r *Room) Broadcast(from domain.UserID, event string, payload any) int {
	sent := 0
	for _, p := range r.Others(from) {
		if err := r.notify.NotifyPeer(r.id, p.User().ID, event, payload); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("room", string(r.id)).
				Str("to", string(p.User().ID)).Str("event", event).Msg("broadcast delivery failed")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).
		Str("event", event).Int("sent_to", sent).Msg("broadcast result")
	return sent
}
