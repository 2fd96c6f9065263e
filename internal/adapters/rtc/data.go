package rtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// openChannel creates a pre-negotiated data channel on a connected transport.
func (t *Transport) openChannel(label, protocol string, stream core.SctpStreamParameters) (*webrtc.DataChannel, error) {
	id := stream.StreamID
	params := &webrtc.DataChannelParameters{
		Label:             label,
		Protocol:          protocol,
		ID:                &id,
		Ordered:           stream.Ordered == nil || *stream.Ordered,
		MaxPacketLifeTime: stream.MaxPacketLifeTime,
		MaxRetransmits:    stream.MaxRetransmits,
		Negotiated:        true,
	}
	return t.router.worker.api.NewDataChannel(t.sctp, params)
}

// DataProducer receives SCTP messages from the client on a negotiated stream
// and forwards them to its data consumers.
type DataProducer struct {
	handle
	transport *Transport
	label     string
	protocol  string
	stream    core.SctpStreamParameters
	logger    zerolog.Logger
	paused    atomic.Bool

	mu        sync.Mutex
	channel   *webrtc.DataChannel
	consumers map[string]*DataConsumer
}

func (t *Transport) ProduceData(_ context.Context, opts core.DataProduceOptions) (core.DataProducer, error) {
	if t.closed() {
		return nil, fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	if t.sctp == nil {
		return nil, errNoSctp
	}
	p := &DataProducer{
		handle:    newHandle(uuid.NewString()),
		transport: t,
		label:     opts.Label,
		protocol:  opts.Protocol,
		stream:    opts.SctpStreamParameters,
		consumers: make(map[string]*DataConsumer),
	}
	p.logger = t.logger.With().Str("data_producer", p.id).Str("label", opts.Label).Logger()
	if err := t.adopt(p); err != nil {
		return nil, err
	}
	t.router.mu.Lock()
	t.router.dataProducers[p.id] = p
	t.router.mu.Unlock()

	t.router.worker.goSafe("data producer open", p.run)
	return p, nil
}

func (p *DataProducer) run() {
	if !p.transport.waitReady() {
		return
	}
	dc, err := p.transport.openChannel(p.label, p.protocol, p.stream)
	if err != nil {
		p.logger.Error().Err(err).Msg("data channel open failed")
		_ = p.Close()
		return
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.paused.Load() {
			return
		}
		p.forward(msg)
	})
	dc.OnClose(func() {
		p.transport.router.worker.goSafe("data producer close", func() { _ = p.Close() })
	})

	p.mu.Lock()
	if p.closed() {
		p.mu.Unlock()
		_ = dc.Close()
		return
	}
	p.channel = dc
	p.mu.Unlock()
}

func (p *DataProducer) forward(msg webrtc.DataChannelMessage) {
	p.mu.Lock()
	targets := make([]*DataConsumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		targets = append(targets, c)
	}
	p.mu.Unlock()
	for _, c := range targets {
		c.deliver(msg)
	}
}

func (p *DataProducer) attach(c *DataConsumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed() {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *DataProducer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *DataProducer) Label() string                                  { return p.label }
func (p *DataProducer) Protocol() string                               { return p.protocol }
func (p *DataProducer) SctpStreamParameters() core.SctpStreamParameters { return p.stream }
func (p *DataProducer) Paused() bool                                   { return p.paused.Load() }

func (p *DataProducer) Pause(context.Context) error {
	p.paused.Store(true)
	return nil
}

func (p *DataProducer) Resume(context.Context) error {
	p.paused.Store(false)
	return nil
}

func (p *DataProducer) Close() error {
	p.close(func() {
		p.mu.Lock()
		dc := p.channel
		consumers := p.consumers
		p.consumers = make(map[string]*DataConsumer)
		p.mu.Unlock()
		if dc != nil {
			_ = dc.Close()
		}
		for _, c := range consumers {
			_ = c.Close()
		}
		p.transport.router.forgetProducer(p.id)
		p.transport.forget(p.id)
		p.logger.Info().Msg("data producer closed")
	})
	return nil
}

// DataConsumer sends a data producer's messages to the client on a stream
// allocated by the receiving transport.
type DataConsumer struct {
	handle
	transport *Transport
	producer  *DataProducer
	params    core.DataConsumerParams
	logger    zerolog.Logger
	paused    atomic.Bool

	mu      sync.Mutex
	channel *webrtc.DataChannel
}

func (t *Transport) ConsumeData(_ context.Context, opts core.DataConsumeOptions) (core.DataConsumer, error) {
	if t.closed() {
		return nil, fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	if t.sctp == nil {
		return nil, errNoSctp
	}
	prod, ok := t.router.dataProducer(opts.DataProducerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, opts.DataProducerID)
	}
	stream := prod.stream
	stream.StreamID = t.allocateStream()

	id := uuid.NewString()
	c := &DataConsumer{
		handle:    newHandle(id),
		transport: t,
		producer:  prod,
		params: core.DataConsumerParams{
			ID:                   id,
			DataProducerID:       prod.id,
			SctpStreamParameters: stream,
			Label:                prod.label,
			Protocol:             prod.protocol,
			AppData:              opts.AppData,
		},
	}
	c.logger = t.logger.With().Str("data_consumer", id).Str("data_producer", prod.id).Logger()
	c.paused.Store(opts.Paused)

	if err := t.adopt(c); err != nil {
		return nil, err
	}
	if !prod.attach(c) {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, prod.id)
	}
	t.router.worker.goSafe("data consumer open", c.run)
	return c, nil
}

func (c *DataConsumer) run() {
	if !c.transport.waitReady() {
		return
	}
	dc, err := c.transport.openChannel(c.params.Label, c.params.Protocol, c.params.SctpStreamParameters)
	if err != nil {
		c.logger.Error().Err(err).Msg("data channel open failed")
		_ = c.Close()
		return
	}
	dc.OnClose(func() {
		c.transport.router.worker.goSafe("data consumer close", func() { _ = c.Close() })
	})
	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		_ = dc.Close()
		return
	}
	c.channel = dc
	c.mu.Unlock()
}

// deliver drops the message while the channel is not open yet.
func (c *DataConsumer) deliver(msg webrtc.DataChannelMessage) {
	if c.paused.Load() {
		return
	}
	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()
	if dc == nil {
		return
	}
	var err error
	if msg.IsString {
		err = dc.SendText(string(msg.Data))
	} else {
		err = dc.Send(msg.Data)
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("data send failed")
	}
}

func (c *DataConsumer) DataProducerID() string          { return c.producer.id }
func (c *DataConsumer) Params() core.DataConsumerParams { return c.params }
func (c *DataConsumer) Paused() bool                    { return c.paused.Load() }

func (c *DataConsumer) Pause(context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *DataConsumer) Resume(context.Context) error {
	c.paused.Store(false)
	return nil
}

func (c *DataConsumer) Close() error {
	c.close(func() {
		c.mu.Lock()
		dc := c.channel
		c.mu.Unlock()
		if dc != nil {
			_ = dc.Close()
		}
		c.producer.detach(c.id)
		c.transport.forget(c.id)
		c.logger.Info().Msg("data consumer closed")
	})
	return nil
}
