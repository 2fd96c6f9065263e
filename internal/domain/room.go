package domain

type (
	RoomName string
	RoomID   string
)

// RoomSummary is what the roomUpdate broadcast and the HTTP listing expose.
type RoomSummary struct {
	ID        RoomID          `json:"id"`
	Name      RoomName        `json:"name"`
	PeerCount int             `json:"peerCount"`
	Members   []MemberSummary `json:"members,omitempty"`
	WorkerID  string          `json:"workerId,omitempty"`
}
