package core_test

import (
	"context"
	"sync"
	"testing"

	"github.com/parbhatia/gospace-sub000/internal/adapters/memory"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	to      domain.UserID
	event   string
	payload any
}

// recorder is a Notifier that keeps every delivery.
type recorder struct {
	mu  sync.Mutex
	got []delivery
}

func (r *recorder) NotifyPeer(_ domain.RoomID, user domain.UserID, event string, payload any) error {
	r.mu.Lock()
	r.got = append(r.got, delivery{to: user, event: event, payload: payload})
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(to domain.UserID, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.got {
		if d.to == to && d.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(to domain.UserID, event string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.got) - 1; i >= 0; i-- {
		if r.got[i].to == to && r.got[i].event == event {
			return r.got[i].payload, true
		}
	}
	return nil, false
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func newTestRoom(t *testing.T) (*core.Room, *memory.Engine, *recorder) {
	t.Helper()
	ctx := context.Background()
	engine := memory.NewEngine()
	w, err := engine.CreateWorker(ctx, core.WorkerSettings{})
	require.NoError(t, err)
	router, err := w.CreateRouter(ctx, nil)
	require.NoError(t, err)
	rec := &recorder{}
	room := core.NewRoom("r1", "Room one", router, rec)
	t.Cleanup(func() { _ = room.Close(context.Background()) })
	return room, engine, rec
}

func join(t *testing.T, room *core.Room, id string) *core.Peer {
	t.Helper()
	p, err := room.CreatePeer(domain.UserMeta{ID: domain.UserID(id), Name: id})
	require.NoError(t, err)
	return p
}

func transport(t *testing.T, p *core.Peer, dir domain.Direction) string {
	t.Helper()
	params, err := p.CreateTransport(context.Background(), dir, true)
	require.NoError(t, err)
	return params.ID
}

func opus() core.ProduceOptions {
	return core.ProduceOptions{
		Kind: domain.KindAudio,
		RtpParameters: core.RtpParameters{
			Codecs:    []core.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
			Encodings: []core.RtpEncodingParameters{{SSRC: 1111}},
		},
		AppData: map[string]any{"source": "mic"},
	}
}

func defaultCaps() core.RtpCapabilities {
	return core.RtpCapabilities{Codecs: core.DefaultCodecs()}
}
