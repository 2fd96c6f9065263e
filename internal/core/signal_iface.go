package core

import "github.com/parbhatia/gospace-sub000/internal/domain"

// Server → client event names.
const (
	EventNewProducer        = "newProducer"
	EventNewDataProducer    = "newDataProducer"
	EventRoomUpdate         = "roomUpdate"
	EventConsumerClosed     = "consumerClosed"
	EventDataConsumerClosed = "dataConsumerClosed"
)

// Notifier delivers a server-initiated event to one peer of a room.
// Owned by the signaling adapter; it must not block on a slow client.
type Notifier interface {
	NotifyPeer(roomID domain.RoomID, userID domain.UserID, event string, payload any) error
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(roomID domain.RoomID, userID domain.UserID, event string, payload any) error

func (f NotifierFunc) NotifyPeer(roomID domain.RoomID, userID domain.UserID, event string, payload any) error {
	return f(roomID, userID, event, payload)
}

type NewProducerEvent struct {
	PeerID     domain.UserID    `json:"peerId"`
	PeerName   string           `json:"peerName"`
	ProducerID string           `json:"producerId"`
	Kind       domain.MediaKind `json:"kind"`
	AppData    map[string]any   `json:"appData,omitempty"`
}

type NewDataProducerEvent struct {
	PeerID         domain.UserID  `json:"peerId"`
	PeerName       string         `json:"peerName"`
	DataProducerID string         `json:"dataProducerId"`
	Label          string         `json:"label"`
	Protocol       string         `json:"protocol"`
	AppData        map[string]any `json:"appData,omitempty"`
}

type ConsumerClosedEvent struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}

type DataConsumerClosedEvent struct {
	DataConsumerID string `json:"dataConsumerId"`
	DataProducerID string `json:"dataProducerId"`
}
