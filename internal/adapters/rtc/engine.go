// Package rtc is a media engine built on the ORTC API of pion/webrtc. Each
// worker owns one webrtc.API; transports are raw ICE/DTLS/SCTP stacks and
// media is forwarded by RTP relays.
package rtc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ICEServers []string
	NAT1To1IPs []string
	// Codecs are registered with every worker's media engine. Empty means
	// core.DefaultCodecs.
	Codecs []core.RtpCodecCapability
}

type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if len(opts.Codecs) == 0 {
		opts.Codecs = core.DefaultCodecs()
	}
	return &Engine{opts: opts}
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	if len(e.opts.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: e.opts.ICEServers}}
}

func (e *Engine) CreateWorker(_ context.Context, settings core.WorkerSettings) (core.Worker, error) {
	api, err := e.newAPI(settings)
	if err != nil {
		return nil, err
	}
	w := newWorker(uuid.NewString(), api, e.iceServers())
	log.Info().Str("module", "rtc").Str("worker", w.id).
		Uint16("udp_min", settings.RTCMinPort).Uint16("udp_max", settings.RTCMaxPort).Msg("worker created")
	return w, nil
}

func (e *Engine) newAPI(settings core.WorkerSettings) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	for _, c := range e.opts.Codecs {
		typ, err := codecType(c.Kind)
		if err != nil {
			return nil, err
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: codecCapability(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := mediaEngine.RegisterCodec(params, typ); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	se := webrtc.SettingEngine{}
	if settings.RTCMinPort > 0 && settings.RTCMaxPort >= settings.RTCMinPort {
		if err := se.SetEphemeralUDPPortRange(settings.RTCMinPort, settings.RTCMaxPort); err != nil {
			return nil, fmt.Errorf("udp port range %d-%d: %w", settings.RTCMinPort, settings.RTCMaxPort, err)
		}
	}
	if len(e.opts.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(e.opts.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	interceptorRegistry := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	interceptorRegistry.Add(pli)
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

var (
	_ core.Engine       = (*Engine)(nil)
	_ core.Worker       = (*Worker)(nil)
	_ core.Router       = (*Router)(nil)
	_ core.Transport    = (*Transport)(nil)
	_ core.Producer     = (*Producer)(nil)
	_ core.Consumer     = (*Consumer)(nil)
	_ core.DataProducer = (*DataProducer)(nil)
	_ core.DataConsumer = (*DataConsumer)(nil)
)
