package app

import (
	"fmt"

	"github.com/parbhatia/gospace-sub000/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, user domain.UserID, event string) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.RoomID, domain.UserID, string) BackpressureAction {
	return p.Action
}

// ParsePolicy maps the signal.backpressure setting to a policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "kick":
		return SimplePolicy{Action: KickMember}, nil
	case "drop":
		return SimplePolicy{Action: DropFrame}, nil
	}
	return nil, fmt.Errorf("unknown backpressure policy %q", s)
}
