package orch

import (
	"fmt"

	"github.com/parbhatia/gospace-sub000/internal/app"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
)

// Orchestrator binds each signaling request to the registry, room and peer
// operations. It holds no per-connection state.
type Orchestrator struct {
	Registry *app.SessionRegistry
	// EnableSctp turns on data channels for new transports.
	EnableSctp bool
}

func New(registry *app.SessionRegistry, enableSctp bool) *Orchestrator {
	return &Orchestrator{Registry: registry, EnableSctp: enableSctp}
}

// Scope names the room and user a request is about.
type Scope struct {
	RoomID domain.RoomID   `json:"roomId"`
	User   domain.UserMeta `json:"userMeta"`
}

func (s Scope) validate() error {
	if s.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", domain.ErrBadPayload)
	}
	return s.User.Validate()
}

func (o *Orchestrator) room(s Scope) (*core.Room, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return o.Registry.GetRoom(s.RoomID)
}

func (o *Orchestrator) peer(s Scope) (*core.Room, *core.Peer, error) {
	room, err := o.room(s)
	if err != nil {
		return nil, nil, err
	}
	p, err := room.GetPeer(s.User.ID)
	if err != nil {
		return nil, nil, err
	}
	return room, p, nil
}

func (o *Orchestrator) Rooms() []domain.RoomSummary {
	return o.Registry.Rooms()
}

func (o *Orchestrator) Room(id domain.RoomID) (domain.RoomSummary, error) {
	room, err := o.Registry.GetRoom(id)
	if err != nil {
		return domain.RoomSummary{}, err
	}
	return room.Summary(), nil
}
