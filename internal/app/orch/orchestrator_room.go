package orch

import (
	"context"
	"errors"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

type CapabilitiesRequest struct {
	Scope
	RoomName domain.RoomName `json:"roomName,omitempty"`
}

// RequestRouterCapabilities is the join: it creates the room on first use,
// registers the peer and returns the router capabilities. A user that is
// already present is treated as a reconnect and its old resources are
// released first.
func (o *Orchestrator) RequestRouterCapabilities(ctx context.Context, req CapabilitiesRequest) (core.RtpCapabilities, error) {
	if err := req.validate(); err != nil {
		return core.RtpCapabilities{}, err
	}

	var (
		room *core.Room
		err  error
	)
	// A reaped room refuses new peers; resolve once more to get a fresh one.
	for attempt := 0; attempt < 2; attempt++ {
		var created bool
		room, created, err = o.Registry.GetOrCreateRoom(ctx, req.RoomID, req.RoomName)
		if err != nil {
			return core.RtpCapabilities{}, err
		}
		if created {
			log.Info().Str("module", "orch").Str("room", string(req.RoomID)).Msg("room created lazily")
		}
		err = o.join(ctx, room, req.User)
		if !errors.Is(err, domain.ErrRoomNotFound) {
			break
		}
	}
	if err != nil {
		return core.RtpCapabilities{}, err
	}
	return room.RoutingCapabilities(), nil
}

func (o *Orchestrator) join(ctx context.Context, room *core.Room, user domain.UserMeta) error {
	if p, err := room.GetPeer(user.ID); err == nil {
		p.Reinitialize(ctx)
		log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("user", string(user.ID)).Msg("peer reconnected")
		return nil
	}
	_, err := room.CreatePeer(user)
	if errors.Is(err, domain.ErrDuplicatePeer) {
		// Lost a race with a concurrent join of the same user.
		return nil
	}
	if err != nil {
		return err
	}
	room.Broadcast(user.ID, core.EventRoomUpdate, room.Summary())
	return nil
}

// ConsumeExistingProducers makes every other peer announce its producers to
// the caller. The caller needs a receive transport first.
func (o *Orchestrator) ConsumeExistingProducers(_ context.Context, s Scope) (int, error) {
	room, p, err := o.peer(s)
	if err != nil {
		return 0, err
	}
	if !p.HasReceiveTransport() {
		return 0, domain.ErrTransportNotReady
	}
	sent := 0
	for _, other := range room.Others(s.User.ID) {
		sent += other.BroadcastProducersToPeer(s.User.ID)
	}
	log.Info().Str("module", "orch").Str("room", string(s.RoomID)).Str("user", string(s.User.ID)).Int("announced", sent).Msg("existing producers announced")
	return sent, nil
}

func (o *Orchestrator) ConsumeExistingDataProducers(_ context.Context, s Scope) (int, error) {
	room, p, err := o.peer(s)
	if err != nil {
		return 0, err
	}
	if !p.HasReceiveTransport() {
		return 0, domain.ErrTransportNotReady
	}
	sent := 0
	for _, other := range room.Others(s.User.ID) {
		sent += other.BroadcastDataProducersToPeer(s.User.ID)
	}
	log.Info().Str("module", "orch").Str("room", string(s.RoomID)).Str("user", string(s.User.ID)).Int("announced", sent).Msg("existing data producers announced")
	return sent, nil
}

// RemovePeer releases the user's resources in the room. It is a no-op when
// the room or the peer is already gone.
func (o *Orchestrator) RemovePeer(ctx context.Context, s Scope) error {
	if err := s.validate(); err != nil {
		return err
	}
	o.removePeer(ctx, s.RoomID, s.User.ID)
	return nil
}

func (o *Orchestrator) removePeer(ctx context.Context, roomID domain.RoomID, userID domain.UserID) bool {
	room, err := o.Registry.GetRoom(roomID)
	if err != nil {
		return false
	}
	if !room.RemovePeer(ctx, userID) {
		return false
	}
	if !o.Registry.ReapIfEmpty(ctx, roomID) {
		room.Broadcast(userID, core.EventRoomUpdate, room.Summary())
	}
	return true
}

func (o *Orchestrator) RemoveRoom(ctx context.Context, s Scope) error {
	if s.RoomID == "" {
		return domain.ErrBadPayload
	}
	if o.Registry.RemoveRoom(ctx, s.RoomID) {
		log.Info().Str("module", "orch").Str("room", string(s.RoomID)).Str("by", string(s.User.ID)).Msg("room removed on request")
	}
	return nil
}

// Disconnect removes the user from each of the given rooms. It returns the
// number of rooms the user was actually in.
func (o *Orchestrator) Disconnect(ctx context.Context, userID domain.UserID, rooms []domain.RoomID) int {
	n := 0
	for _, id := range rooms {
		if o.removePeer(ctx, id, userID) {
			n++
		}
	}
	log.Info().Str("module", "orch").Str("user", string(userID)).Int("rooms", n).Msg("disconnect cleanup")
	return n
}
