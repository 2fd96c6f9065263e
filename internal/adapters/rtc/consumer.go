package rtc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Consumer sends a producer's media to the client through its own local
// track and RTP sender.
type Consumer struct {
	handle
	transport *Transport
	producer  *Producer
	sender    *webrtc.RTPSender
	out       *outTrack
	params    core.ConsumerParams
	logger    zerolog.Logger
	paused    atomic.Bool
}

func (t *Transport) Consume(_ context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	if t.closed() {
		return nil, fmt.Errorf("%w: %s", errTransportClosed, t.id)
	}
	prod, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownProducer, opts.ProducerID)
	}
	rtpParams, ok := core.ConsumableParameters(prod.rtp, opts.RtpCapabilities)
	if !ok || len(rtpParams.Codecs) == 0 {
		return nil, fmt.Errorf("rtc: producer %s not consumable with given capabilities", prod.id)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(trackCapability(rtpParams.Codecs[0]), id, prod.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.worker.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if len(sendParams.Encodings) > 0 {
		rtpParams.Encodings = []core.RtpEncodingParameters{{SSRC: uint32(sendParams.Encodings[0].SSRC)}}
	}

	c := &Consumer{
		handle:    newHandle(id),
		transport: t,
		producer:  prod,
		sender:    sender,
		out:       &outTrack{track: track},
		params: core.ConsumerParams{
			ID:            id,
			ProducerID:    prod.id,
			Kind:          prod.kind,
			RtpParameters: rtpParams,
			AppData:       opts.AppData,
		},
	}
	c.logger = t.logger.With().Str("consumer", id).Str("producer", prod.id).Logger()
	c.paused.Store(opts.Paused)
	c.out.mute(opts.Paused)

	if err := t.adopt(c); err != nil {
		_ = sender.Stop()
		return nil, err
	}
	prod.relay.add(id, c.out)
	// The producer may have closed between lookup and attach.
	go func() {
		select {
		case <-prod.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	t.router.worker.goSafe("consumer send", func() { c.run(sendParams) })
	return c, nil
}

func (c *Consumer) run(params webrtc.RTPSendParameters) {
	if !c.transport.waitReady() {
		return
	}
	if err := c.sender.Send(params); err != nil {
		c.logger.Error().Err(err).Msg("rtp send failed")
		_ = c.Close()
		return
	}
	c.logger.Info().Msg("consumer sending")
	// Interceptors only see RTCP that is read.
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if c.paused.Load() {
					continue
				}
				if err := c.producer.requestKeyFrame(); err != nil {
					c.logger.Debug().Err(err).Msg("relay PLI")
				}
			}
		}
	}
}

func (c *Consumer) ProducerID() string { return c.producer.id }
func (c *Consumer) Paused() bool       { return c.paused.Load() }

func (c *Consumer) Params() core.ConsumerParams {
	p := c.params
	p.Paused = c.paused.Load()
	p.ProducerPaused = c.producer.Paused()
	return p
}

func (c *Consumer) Pause(context.Context) error {
	c.paused.Store(true)
	c.out.mute(true)
	return nil
}

func (c *Consumer) Resume(context.Context) error {
	c.paused.Store(false)
	c.out.mute(false)
	return nil
}

func (c *Consumer) Close() error {
	c.close(func() {
		c.out.markDelete()
		c.producer.relay.remove(c.id)
		if err := c.sender.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("sender stop")
		}
		c.transport.forget(c.id)
		c.logger.Info().Msg("consumer closed")
	})
	return nil
}
