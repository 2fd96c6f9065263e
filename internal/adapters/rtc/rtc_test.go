package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtpLine(t *testing.T) {
	assert.Equal(t, "", fmtpLine(nil))
	assert.Equal(t, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		fmtpLine(map[string]any{"profile-level-id": "42e01f", "packetization-mode": 1, "level-asymmetry-allowed": 1}))
}

func TestRemoteCandidate(t *testing.T) {
	c, err := remoteICECandidate(core.IceCandidate{
		Foundation: "1", Priority: 100, IP: "10.0.0.1", Protocol: "udp", Port: 5000, Type: "host",
	})
	require.NoError(t, err)
	assert.Equal(t, webrtc.ICEProtocolUDP, c.Protocol)
	assert.Equal(t, webrtc.ICECandidateTypeHost, c.Typ)
	assert.Equal(t, uint16(1), c.Component)

	back := iceCandidate(c)
	assert.Equal(t, "10.0.0.1", back.IP)
	assert.Equal(t, "host", back.Type)

	_, err = remoteICECandidate(core.IceCandidate{Protocol: "sctp", Type: "host"})
	assert.Error(t, err)
}

func TestDTLSRoles(t *testing.T) {
	assert.Equal(t, webrtc.DTLSRoleClient, remoteDTLSParameters(core.DtlsParameters{Role: "client"}).Role)
	assert.Equal(t, webrtc.DTLSRoleAuto, remoteDTLSParameters(core.DtlsParameters{}).Role)
	assert.Equal(t, "server", dtlsRoleName(webrtc.DTLSRoleServer))
}

func TestCodecType(t *testing.T) {
	typ, err := codecType(domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, typ)
	_, err = codecType("hologram")
	assert.Error(t, err)
}

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	w, err := NewEngine(Options{}).CreateWorker(context.Background(), core.WorkerSettings{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w.(*Worker)
}

func TestPanicKillsWorker(t *testing.T) {
	w := newTestWorker(t)
	r, err := w.CreateRouter(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Load())

	w.goSafe("test", func() { panic("bad packet") })
	select {
	case <-w.Died():
	case <-time.After(time.Second):
		t.Fatal("worker did not die")
	}
	assert.ErrorContains(t, w.Err(), "bad packet")
	<-r.Done()
	_, err = w.CreateRouter(context.Background(), nil)
	assert.ErrorIs(t, err, errWorkerClosed)
}

func TestTransportLifecycle(t *testing.T) {
	w := newTestWorker(t)
	ctx := context.Background()
	r, err := w.CreateRouter(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, r.RtpCapabilities().Codecs)
	assert.False(t, r.CanConsume("unknown", r.RtpCapabilities()))

	tr, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	require.NoError(t, err)
	p := tr.Params()
	assert.Equal(t, tr.ID(), p.ID)
	assert.NotEmpty(t, p.IceParameters.UsernameFragment)
	assert.NotEmpty(t, p.DtlsParameters.Fingerprints)
	assert.Nil(t, p.SctpParameters)

	_, err = tr.ProduceData(ctx, core.DataProduceOptions{Label: "chat"})
	assert.ErrorIs(t, err, errNoSctp)
	assert.ErrorIs(t, tr.Connect(ctx, core.ConnectParams{}), errNoIceParameters)
	_, err = tr.Produce(ctx, core.ProduceOptions{Kind: domain.KindAudio})
	assert.ErrorIs(t, err, errNoCodec)

	require.NoError(t, r.Close())
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("transport not closed with its router")
	}
}

func TestRelayOutTrackStates(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "c1", "p1")
	require.NoError(t, err)
	ot := &outTrack{track: track}

	ot.mute(true)
	assert.Equal(t, trackStateMuted, ot.state.Load())
	ot.mute(false)
	assert.Equal(t, trackStateOk, ot.state.Load())

	r := newRelay(zerolog.Nop(), nil)
	r.add("c1", ot)
	r.add("c2", &outTrack{track: track})
	r.forward(&rtp.Packet{Header: rtp.Header{SSRC: 1}})
	assert.Len(t, r.outTracks, 2)

	ot.markDelete()
	ot.mute(false)
	assert.Equal(t, trackStateDelete, ot.state.Load(), "delete is terminal")
	r.forward(&rtp.Packet{Header: rtp.Header{SSRC: 1}})
	assert.Len(t, r.outTracks, 1)

	r.markAllDelete()
	r.cleanupDeleted()
	assert.Empty(t, r.outTracks)
}

func TestCreateTransportHonorsContext(t *testing.T) {
	w := newTestWorker(t)
	r, err := w.CreateRouter(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.(*Router).transports)
}
