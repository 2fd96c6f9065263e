package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const (
	trackStateOk int32 = iota
	trackStateMuted
	trackStateDelete
)

// outTrack is one outgoing copy of a producer's media, owned by a consumer.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func (o *outTrack) mute(muted bool) {
	if muted {
		o.state.CompareAndSwap(trackStateOk, trackStateMuted)
	} else {
		o.state.CompareAndSwap(trackStateMuted, trackStateOk)
	}
}

func (o *outTrack) markDelete() { o.state.Store(trackStateDelete) }

// relay fans RTP from one remote track out to every attached outTrack.
type relay struct {
	logger zerolog.Logger
	// skip reports whether forwarding is suspended, e.g. a paused producer.
	skip func() bool

	mu        sync.RWMutex
	outTracks map[string]*outTrack
}

func newRelay(logger zerolog.Logger, skip func() bool) *relay {
	return &relay{logger: logger, skip: skip, outTracks: make(map[string]*outTrack)}
}

func (r *relay) add(id string, ot *outTrack) {
	r.mu.Lock()
	r.outTracks[id] = ot
	r.mu.Unlock()
}

func (r *relay) remove(id string) {
	r.mu.Lock()
	delete(r.outTracks, id)
	r.mu.Unlock()
}

// loop reads from src until it fails or ctx is done.
func (r *relay) loop(ctx context.Context, src *webrtc.TrackRemote) error {
	for {
		select {
		case <-ctx.Done():
			r.markAllDelete()
			return nil
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			r.markAllDelete()
			return err
		}
		if r.skip != nil && r.skip() {
			continue
		}
		r.forward(pkt)
	}
}

func (r *relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	targets := make(map[string]*outTrack, len(r.outTracks))
	for id, ot := range r.outTracks {
		targets[id] = ot
	}
	r.mu.RUnlock()

	dirty := false
	for id, ot := range targets {
		switch ot.state.Load() {
		case trackStateDelete:
			dirty = true
			continue
		case trackStateMuted:
			continue
		}
		if err := ot.track.WriteRTP(pkt); err != nil {
			r.logger.Error().Err(err).Str("consumer", id).Msg("relay write RTP error, marking outtrack as delete")
			ot.markDelete()
			dirty = true
		}
	}

	// Snapshot above keeps the write lock out of the read path.
	if dirty {
		r.cleanupDeleted()
	}
}

func (r *relay) cleanupDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ot := range r.outTracks {
		if ot.state.Load() == trackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
}
