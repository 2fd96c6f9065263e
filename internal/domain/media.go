package domain

import "fmt"

// Direction of a transport as seen from the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionSend, DirectionRecv:
		return Direction(s), nil
	case "producer":
		return DirectionSend, nil
	case "consumer":
		return DirectionRecv, nil
	}
	return "", fmt.Errorf("%w: direction %q", ErrBadPayload, s)
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case KindAudio, KindVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrBadPayload, s)
}

// EntityType names the resource kinds a peer owns.
type EntityType string

const (
	EntityTransport    EntityType = "transport"
	EntityProducer     EntityType = "producer"
	EntityConsumer     EntityType = "consumer"
	EntityDataProducer EntityType = "dataProducer"
	EntityDataConsumer EntityType = "dataConsumer"
)

type UpdateType string

const (
	UpdateClose  UpdateType = "close"
	UpdatePause  UpdateType = "pause"
	UpdateResume UpdateType = "resume"
)

func ParseUpdateType(s string) (UpdateType, error) {
	switch UpdateType(s) {
	case UpdateClose, UpdatePause, UpdateResume:
		return UpdateType(s), nil
	}
	return "", fmt.Errorf("%w: update type %q", ErrBadPayload, s)
}
