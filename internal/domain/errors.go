package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrDuplicatePeer     = errors.New("peer already joined")
	ErrTransportNotFound = errors.New("transport not found")
	// ErrResourceAlreadyClosed is never surfaced to clients; closing an absent
	// resource is a successful no-op.
	ErrResourceAlreadyClosed = errors.New("resource already closed")
	ErrMediaEngineFailure    = errors.New("media engine failure")
	ErrWorkerFatal           = errors.New("media worker died")
	ErrNoWorkers             = errors.New("no live media workers")
	ErrCannotConsume         = errors.New("cannot consume producer with given capabilities")
	ErrUnsupportedUpdate     = errors.New("unsupported entity update")
	ErrInvalidUserMeta       = errors.New("invalid user meta")
	ErrBadPayload            = errors.New("bad payload")
	ErrRateLimited           = errors.New("rate limited")
	ErrTransportNotReady     = errors.New("receive transport not ready")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrRoomNotFound, "RoomNotFound"},
	{ErrRoomAlreadyExists, "RoomAlreadyExists"},
	{ErrPeerNotFound, "PeerNotFound"},
	{ErrDuplicatePeer, "DuplicatePeer"},
	{ErrTransportNotFound, "TransportNotFound"},
	{ErrResourceAlreadyClosed, "ResourceAlreadyClosed"},
	{ErrWorkerFatal, "WorkerFatal"},
	{ErrNoWorkers, "WorkerFatal"},
	{ErrCannotConsume, "CannotConsume"},
	{ErrMediaEngineFailure, "MediaEngineFailure"},
	{ErrUnsupportedUpdate, "UnsupportedUpdate"},
	{ErrInvalidUserMeta, "InvalidUserMeta"},
	{ErrBadPayload, "BadPayload"},
	{ErrRateLimited, "RateLimited"},
	{ErrTransportNotReady, "TransportNotReady"},
}

// Code maps err to the failure code sent over the wire.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}
