package memory

import (
	"sync"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
)

type Producer struct {
	handle
	pausable
	transport *Transport
	kind      domain.MediaKind
	rtp       core.RtpParameters

	mu        sync.Mutex
	consumers map[string]*Consumer
	gone      bool
}

func (p *Producer) Kind() domain.MediaKind            { return p.kind }
func (p *Producer) RtpParameters() core.RtpParameters { return p.rtp }

func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *Producer) detach(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close also closes every consumer of the producer.
func (p *Producer) Close() error {
	p.close(func() {
		p.mu.Lock()
		p.gone = true
		consumers := p.consumers
		p.consumers = make(map[string]*Consumer)
		p.mu.Unlock()
		for _, c := range consumers {
			_ = c.Close()
		}
		p.transport.router.forgetProducer(p.id)
		p.transport.forget(p.id)
	})
	return nil
}

type Consumer struct {
	handle
	pausable
	transport *Transport
	producer  *Producer
	rtp       core.RtpParameters
	appData   map[string]any
}

func (c *Consumer) ProducerID() string { return c.producer.id }

func (c *Consumer) Params() core.ConsumerParams {
	return core.ConsumerParams{
		ID:             c.id,
		ProducerID:     c.producer.id,
		Kind:           c.producer.kind,
		RtpParameters:  c.rtp,
		Paused:         c.Paused(),
		ProducerPaused: c.producer.Paused(),
		AppData:        c.appData,
	}
}

func (c *Consumer) Close() error {
	c.close(func() {
		c.producer.detach(c.id)
		c.transport.forget(c.id)
	})
	return nil
}

type DataProducer struct {
	handle
	pausable
	transport *Transport
	label     string
	protocol  string
	stream    core.SctpStreamParameters

	mu        sync.Mutex
	consumers map[string]*DataConsumer
	gone      bool
}

func (p *DataProducer) Label() string                                  { return p.label }
func (p *DataProducer) Protocol() string                               { return p.protocol }
func (p *DataProducer) SctpStreamParameters() core.SctpStreamParameters { return p.stream }

func (p *DataProducer) attach(c *DataConsumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone {
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

func (p *DataProducer) Close() error {
	p.close(func() {
		p.mu.Lock()
		p.gone = true
		consumers := p.consumers
		p.consumers = make(map[string]*DataConsumer)
		p.mu.Unlock()
		for _, c := range consumers {
			_ = c.Close()
		}
		p.transport.router.forgetProducer(p.id)
		p.transport.forget(p.id)
	})
	return nil
}

type DataConsumer struct {
	handle
	pausable
	transport *Transport
	producer  *DataProducer
	stream    core.SctpStreamParameters
	appData   map[string]any
}

func (c *DataConsumer) DataProducerID() string { return c.producer.id }

func (c *DataConsumer) Params() core.DataConsumerParams {
	return core.DataConsumerParams{
		ID:                   c.id,
		DataProducerID:       c.producer.id,
		SctpStreamParameters: c.stream,
		Label:                c.producer.label,
		Protocol:             c.producer.protocol,
		AppData:              c.appData,
	}
}

func (c *DataConsumer) Close() error {
	c.close(func() {
		c.producer.detach(c.id)
		c.transport.forget(c.id)
	})
	return nil
}
