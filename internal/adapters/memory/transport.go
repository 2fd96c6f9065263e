package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
)

var (
	errTransportClosed = errors.New("memory engine: transport closed")
	errNoSctp          = errors.New("memory engine: sctp not enabled")
	errNoFingerprint   = errors.New("memory engine: dtls fingerprint required")
)

type Transport struct {
	handle
	router    *Router
	direction domain.Direction
	params    core.TransportParams
	appData   map[string]any

	mu         sync.Mutex
	connected  bool
	closing    bool
	children   map[string]core.Handle
	nextStream uint16
}

func newTransport(r *Router, id string, opts core.TransportOptions) *Transport {
	t := &Transport{
		handle:    newHandle(id),
		router:    r,
		direction: opts.Direction,
		appData:   opts.AppData,
		children:  make(map[string]core.Handle),
	}
	t.params = core.TransportParams{
		ID: id,
		IceParameters: core.IceParameters{
			UsernameFragment: strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
			Password:         strings.ReplaceAll(uuid.NewString(), "-", ""),
			IceLite:          true,
		},
		IceCandidates: []core.IceCandidate{{
			Foundation: "udpcandidate",
			Priority:   1076302079,
			IP:         "127.0.0.1",
			Protocol:   "udp",
			Port:       r.worker.settings.RTCMinPort,
			Type:       "host",
		}},
		DtlsParameters: core.DtlsParameters{
			Role: "auto",
			Fingerprints: []core.DtlsFingerprint{{
				Algorithm: "sha-256",
				Value:     fingerprint(id),
			}},
		},
	}
	if opts.EnableSctp {
		t.params.SctpParameters = &core.SctpParameters{Port: 5000, OS: 1024, MIS: 1024, MaxMessageSize: 262144}
	}
	return t
}

func fingerprint(id string) string {
	hex := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	pairs := make([]string, 0, len(hex)/2)
	for i := 0; i+1 < len(hex); i += 2 {
		pairs = append(pairs, hex[i:i+2])
	}
	return strings.Join(pairs, ":")
}

func (t *Transport) Params() core.TransportParams { return t.params }
func (t *Transport) Direction() domain.Direction  { return t.direction }

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Connect(_ context.Context, params core.ConnectParams) error {
	if err := t.router.worker.engine.fail(OpConnect); err != nil {
		return err
	}
	if len(params.DtlsParameters.Fingerprints) == 0 {
		return errNoFingerprint
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	t.connected = true
	return nil
}

// adopt registers a child handle unless the transport is already closed.
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

func (t *Transport) Produce(_ context.Context, opts core.ProduceOptions) (core.Producer, error) {
	e := t.router.worker.engine
	if err := e.fail(OpProduce); err != nil {
		return nil, err
	}
	p := &Producer{
		handle:    newHandle(uuid.NewString()),
		pausable:  pausable{engine: e},
		transport: t,
		kind:      opts.Kind,
		rtp:       opts.RtpParameters,
		consumers: make(map[string]*Consumer),
	}
	p.paused.Store(opts.Paused)
	if err := t.adopt(p); err != nil {
		return nil, err
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	e := t.router.worker.engine
	if err := e.fail(OpConsume); err != nil {
		return nil, err
	}
	prod, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, opts.ProducerID)
	}
	rtp, ok := consumerParameters(prod, opts.RtpCapabilities)
	if !ok {
		return nil, fmt.Errorf("memory engine: no common codec for producer %s", prod.id)
	}
	c := &Consumer{
		handle:    newHandle(uuid.NewString()),
		pausable:  pausable{engine: e},
		transport: t,
		producer:  prod,
		rtp:       rtp,
		appData:   opts.AppData,
	}
	c.paused.Store(opts.Paused)
	if err := t.adopt(c); err != nil {
		return nil, err
	}
	if !prod.attach(c) {
		t.forget(c.id)
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, opts.ProducerID)
	}
	return c, nil
}

func (t *Transport) ProduceData(_ context.Context, opts core.DataProduceOptions) (core.DataProducer, error) {
	e := t.router.worker.engine
	if err := e.fail(OpProduceData); err != nil {
		return nil, err
	}
	if t.params.SctpParameters == nil {
		return nil, errNoSctp
	}
	p := &DataProducer{
		handle:    newHandle(uuid.NewString()),
		pausable:  pausable{engine: e},
		transport: t,
		label:     opts.Label,
		protocol:  opts.Protocol,
		stream:    opts.SctpStreamParameters,
		consumers: make(map[string]*DataConsumer),
	}
	if err := t.adopt(p); err != nil {
		return nil, err
	}
	t.router.mu.Lock()
	t.router.dataProducers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) ConsumeData(_ context.Context, opts core.DataConsumeOptions) (core.DataConsumer, error) {
	e := t.router.worker.engine
	if err := e.fail(OpConsumeData); err != nil {
		return nil, err
	}
	if t.params.SctpParameters == nil {
		return nil, errNoSctp
	}
	prod, ok := t.router.dataProducer(opts.DataProducerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, opts.DataProducerID)
	}
	t.mu.Lock()
	stream := t.nextStream
	t.nextStream++
	t.mu.Unlock()

	c := &DataConsumer{
		handle:    newHandle(uuid.NewString()),
		pausable:  pausable{engine: e},
		transport: t,
		producer:  prod,
		stream: core.SctpStreamParameters{
			StreamID:          stream,
			Ordered:           prod.stream.Ordered,
			MaxPacketLifeTime: prod.stream.MaxPacketLifeTime,
			MaxRetransmits:    prod.stream.MaxRetransmits,
		},
		appData: opts.AppData,
	}
	c.paused.Store(opts.Paused)
	if err := t.adopt(c); err != nil {
		return nil, err
	}
	if !prod.attach(c) {
		t.forget(c.id)
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, opts.DataProducerID)
	}
	return c, nil
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
		t.router.forgetTransport(t.id)
	})
	return nil
}
