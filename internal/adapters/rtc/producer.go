package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var (
	errNoCodec = errors.New("rtc: rtp parameters carry no codec")
	errNoSSRC  = errors.New("rtc: rtp parameters carry no ssrc")
)

// Producer receives one RTP stream from the client and relays it to its
// consumers. Only the first encoding is received.
type Producer struct {
	handle
	transport *Transport
	kind      domain.MediaKind
	rtp       core.RtpParameters
	receiver  *webrtc.RTPReceiver
	relay     *relay
	logger    zerolog.Logger
	paused    atomic.Bool
	cancel    context.CancelFunc
}

func (t *Transport) Produce(_ context.Context, opts core.ProduceOptions) (core.Producer, error) {
	if t.closed() {
		return nil, fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	typ, err := codecType(opts.Kind)
	if err != nil {
		return nil, err
	}
	if len(opts.RtpParameters.Codecs) == 0 {
		return nil, errNoCodec
	}
	if len(opts.RtpParameters.Encodings) == 0 || opts.RtpParameters.Encodings[0].SSRC == 0 {
		return nil, errNoSSRC
	}
	receiver, err := t.router.worker.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Producer{
		handle:    newHandle(uuid.NewString()),
		transport: t,
		kind:      opts.Kind,
		rtp:       opts.RtpParameters,
		receiver:  receiver,
		cancel:    cancel,
	}
	p.logger = t.logger.With().Str("producer", p.id).Str("kind", string(opts.Kind)).Logger()
	p.relay = newRelay(p.logger, p.paused.Load)
	p.paused.Store(opts.Paused)

	if err := t.adopt(p); err != nil {
		cancel()
		_ = receiver.Stop()
		return nil, err
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()

	t.router.worker.goSafe("producer receive", func() { p.run(ctx) })
	return p, nil
}

func (p *Producer) run(ctx context.Context) {
	if !p.transport.waitReady() {
		return
	}
	enc := p.rtp.Encodings[0]
	codec := p.rtp.Codecs[0]
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				RID:         enc.RID,
				SSRC:        webrtc.SSRC(enc.SSRC),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("rtp receive failed")
		_ = p.Close()
		return
	}
	track := p.receiver.Track()
	if track == nil {
		p.logger.Error().Msg("receiver has no track")
		_ = p.Close()
		return
	}
	p.logger.Info().Str("codec", track.Codec().MimeType).Msg("producer receiving")
	if err := p.relay.loop(ctx, track); err != nil {
		p.logger.Info().Err(err).Msg("producer stream ended")
	}
	_ = p.Close()
}

// requestKeyFrame asks the client for a keyframe on behalf of a consumer.
func (p *Producer) requestKeyFrame() error {
	if p.closed() || p.kind != domain.KindVideo {
		return nil
	}
	ssrc := p.rtp.Encodings[0].SSRC
	_, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	return err
}

func (p *Producer) Kind() domain.MediaKind            { return p.kind }
func (p *Producer) RtpParameters() core.RtpParameters { return p.rtp }
func (p *Producer) Paused() bool                      { return p.paused.Load() }

func (p *Producer) Pause(context.Context) error {
	p.paused.Store(true)
	return nil
}

func (p *Producer) Resume(context.Context) error {
	p.paused.Store(false)
	return nil
}

func (p *Producer) Close() error {
	p.close(func() {
		p.cancel()
		if err := p.receiver.Stop(); err != nil {
			p.logger.Debug().Err(err).Msg("receiver stop")
		}
		p.relay.markAllDelete()
		p.transport.router.forgetProducer(p.id)
		p.transport.forget(p.id)
		p.logger.Info().Msg("producer closed")
	})
	return nil
}
