package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	errTransportClosed  = errors.New("rtc: transport closed")
	errAlreadyConnected = errors.New("rtc: transport already connected")
	errNoIceParameters  = errors.New("rtc: remote ice parameters required")
	errNoSctp           = errors.New("rtc: sctp not enabled on transport")
)

const (
	sctpPort = 5000
	sctpOS   = 1024
	sctpMIS  = 1024
)

// Transport is a server side ICE/DTLS(/SCTP) stack. ICE runs in the
// controlled role; the client is expected to be controlling.
type Transport struct {
	handle
	router    *Router
	direction domain.Direction
	logger    zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport
	params   core.TransportParams

	connecting atomic.Bool
	// ready is closed once DTLS, and SCTP when enabled, are up.
	ready chan struct{}

	mu         sync.Mutex
	closing    bool
	children   map[string]core.Handle
	nextStream uint16
}

func newTransport(ctx context.Context, r *Router, opts core.TransportOptions) (*Transport, error) {
	api := r.worker.api
	t := &Transport{
		handle:    newHandle(uuid.NewString()),
		router:    r,
		direction: opts.Direction,
		ready:     make(chan struct{}),
		children:  make(map[string]core.Handle),
	}
	t.logger = log.With().Str("module", "rtc").Str("transport", t.id).Str("direction", string(opts.Direction)).Logger()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.worker.iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	t.gatherer = gatherer

	gathered := make(chan struct{})
	var gatherOnce sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			gatherOnce.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice gather: %w", ctx.Err())
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	t.ice = api.NewICETransport(gatherer)
	t.dtls, err = api.NewDTLSTransport(t.ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	t.params = core.TransportParams{
		ID:             t.id,
		IceParameters:  iceParameters(iceParams),
		DtlsParameters: dtlsParameters(dtlsParams),
	}
	for _, c := range candidates {
		t.params.IceCandidates = append(t.params.IceCandidates, iceCandidate(c))
	}
	if opts.EnableSctp {
		t.sctp = api.NewSCTPTransport(t.dtls)
		t.params.SctpParameters = &core.SctpParameters{
			Port:           sctpPort,
			OS:             sctpOS,
			MIS:            sctpMIS,
			MaxMessageSize: t.sctp.GetCapabilities().MaxMessageSize,
		}
	}

	t.ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICETransportStateFailed || s == webrtc.ICETransportStateClosed {
			r.worker.goSafe("transport ice close", func() { _ = t.Close() })
		}
	})
	t.dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Debug().Str("dtls_state", s.String()).Msg("DTLS state")
		if s == webrtc.DTLSTransportStateFailed || s == webrtc.DTLSTransportStateClosed {
			r.worker.goSafe("transport dtls close", func() { _ = t.Close() })
		}
	})
	return t, nil
}

func (t *Transport) Params() core.TransportParams { return t.params }

// Connect starts ICE, DTLS and SCTP in the background. A failure closes the
// transport.
func (t *Transport) Connect(_ context.Context, params core.ConnectParams) error {
	if t.closed() {
		return fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	if params.IceParameters == nil {
		return errNoIceParameters
	}
	candidates := make([]webrtc.ICECandidate, 0, len(params.IceCandidates))
	for _, c := range params.IceCandidates {
		rc, err := remoteICECandidate(c)
		if err != nil {
			return fmt.Errorf("remote candidate %s: %w", c.Foundation, err)
		}
		candidates = append(candidates, rc)
	}
	if !t.connecting.CompareAndSwap(false, true) {
		return errAlreadyConnected
	}

	iceParams := remoteICEParameters(*params.IceParameters)
	dtlsParams := remoteDTLSParameters(params.DtlsParameters)
	var sctpCaps webrtc.SCTPCapabilities
	if params.SctpCapabilities != nil {
		sctpCaps.MaxMessageSize = params.SctpCapabilities.MaxMessageSize
	}

	t.router.worker.goSafe("transport connect", func() {
		if err := t.start(candidates, iceParams, dtlsParams, sctpCaps); err != nil {
			t.logger.Error().Err(err).Msg("transport connect failed")
			_ = t.Close()
		}
	})
	return nil
}

func (t *Transport) start(candidates []webrtc.ICECandidate, iceParams webrtc.ICEParameters,
	dtlsParams webrtc.DTLSParameters, sctpCaps webrtc.SCTPCapabilities,
) error {
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(dtlsParams); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	if t.sctp != nil {
		if err := t.sctp.Start(sctpCaps); err != nil {
			return fmt.Errorf("sctp start: %w", err)
		}
	}
	close(t.ready)
	t.logger.Info().Msg("transport connected")
	return nil
}

// waitReady blocks until the transport is connected or closed.
func (t *Transport) waitReady() bool {
	select {
	case <-t.ready:
		return true
	case <-t.done:
		return false
	}
}

func (t *Transport) adopt(h core.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	t.children[h.ID()] = h
	return nil
}

func (t *Transport) forget(id string) {
	t.mu.Lock()
	delete(t.children, id)
	t.mu.Unlock()
}

func (t *Transport) allocateStream() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextStream
	t.nextStream++
	return id
}

func (t *Transport) Close() error {
	t.close(func() {
		t.mu.Lock()
		t.closing = true
		children := t.children
		t.children = make(map[string]core.Handle)
		t.mu.Unlock()
		for _, h := range children {
			_ = h.Close()
		}
		if t.sctp != nil {
			if err := t.sctp.Stop(); err != nil {
				t.logger.Debug().Err(err).Msg("sctp stop")
			}
		}
		if err := t.dtls.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("dtls stop")
		}
		if err := t.ice.Stop(); err != nil {
			t.logger.Debug().Err(err).Msg("ice stop")
		}
		if err := t.gatherer.Close(); err != nil {
			t.logger.Debug().Err(err).Msg("gatherer close")
		}
		t.router.forgetTransport(t.id)
		t.logger.Info().Msg("transport closed")
	})
	return nil
}
