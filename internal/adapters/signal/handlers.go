package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/parbhatia/gospace-sub000/internal/app/orch"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

type handlerFunc func(ctx context.Context, c *Conn, codec Codec, data []byte) (any, error)

type handler struct {
	fn handlerFunc
	// notify marks fire-and-forget messages: they are never acknowledged
	// and failures are only logged.
	notify bool
}

func (s *Server) routes() map[string]handler {
	return map[string]handler{
		"requestRouterCapabilities":    {fn: s.handleCapabilities},
		"requestCreateTransport":       {fn: s.handleCreateTransport},
		"connectTransport":             {fn: s.handleConnectTransport},
		"addProducer":                  {fn: s.handleAddProducer},
		"addConsumer":                  {fn: s.handleAddConsumer},
		"addDataProducer":              {fn: s.handleAddDataProducer},
		"addDataConsumer":              {fn: s.handleAddDataConsumer},
		"consumeExistingProducers":     {fn: s.handleConsumeExisting},
		"consumeExistingDataProducers": {fn: s.handleConsumeExistingData},

		"transportUpdate":    {fn: s.entityUpdate(domain.EntityTransport), notify: true},
		"producerUpdate":     {fn: s.entityUpdate(domain.EntityProducer), notify: true},
		"consumerUpdate":     {fn: s.entityUpdate(domain.EntityConsumer), notify: true},
		"dataProducerUpdate": {fn: s.entityUpdate(domain.EntityDataProducer), notify: true},
		"dataConsumerUpdate": {fn: s.entityUpdate(domain.EntityDataConsumer), notify: true},
		"removePeer":         {fn: s.handleRemovePeer, notify: true},
		"removeRoom":         {fn: s.handleRemoveRoom, notify: true},
		"ping":               {fn: s.handlePing, notify: true},
	}
}

func (s *Server) handleFrame(ctx context.Context, c *Conn, messageType int, data []byte) {
	codec, err := CodecFor(messageType)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.ID()).Msg("unsupported frame")
		return
	}
	c.setCodec(codec)

	env, err := codec.DecodeEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("codec", codec.Name()).Msg("bad envelope")
		s.reply(c, nil, nil, err)
		return
	}
	h, ok := s.handlers[env.Event]
	if !ok {
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown signal")
		if env.Ack != nil {
			s.reply(c, env.Ack, nil, fmt.Errorf("%w: unknown event %q", domain.ErrBadPayload, env.Event))
		}
		return
	}

	start := time.Now()
	result, err := h.fn(ctx, c, codec, env.Data)
	s.Metrics.Request(env.Event, domain.Code(err), time.Since(start))
	if h.notify {
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("event", env.Event).Str("conn", c.ID()).Msg("notification failed")
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", env.Event).Str("code", domain.Code(err)).
			Str("conn", c.ID()).Msg("request failed")
	}
	s.reply(c, env.Ack, result, err)
}

func (s *Server) reply(c *Conn, ack *uint64, result any, err error) {
	ok := err == nil
	msg := Outbound{Event: "ack", Ack: ack, OK: &ok}
	if err != nil {
		msg.Error = &WireError{Code: domain.Code(err), Reason: err.Error()}
	} else {
		msg.Data = result
	}
	if sendErr := c.Send(msg); sendErr != nil {
		log.Warn().Err(sendErr).Str("module", "signal").Str("conn", c.ID()).Msg("ack not delivered")
	}
}

func (s *Server) handleCapabilities(ctx context.Context, c *Conn, codec Codec, data []byte) (any, error) {
	var req orch.CapabilitiesRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if !s.Limiter.Allow(req.User.ID) {
		return nil, fmt.Errorf("%w: too many joins for %s", domain.ErrRateLimited, req.User.ID)
	}
	// Bound before the join so broadcasts that race with it still arrive.
	s.Hub.Bind(req.RoomID, req.User.ID, c)
	caps, err := s.Orch.RequestRouterCapabilities(ctx, req)
	if err != nil {
		s.Hub.Unbind(req.RoomID, req.User.ID, c)
		return nil, err
	}
	return caps, nil
}

func (s *Server) handleCreateTransport(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.TransportRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return s.Orch.CreateTransport(ctx, req)
}

func (s *Server) handleConnectTransport(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.ConnectRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := s.Orch.ConnectTransport(ctx, req); err != nil {
		return nil, err
	}
	return map[string]any{"transportId": req.TransportID}, nil
}

func (s *Server) handleAddProducer(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.ProduceRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	id, err := s.Orch.AddProducer(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

func (s *Server) handleAddConsumer(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.ConsumeRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return s.Orch.AddConsumer(ctx, req)
}

func (s *Server) handleAddDataProducer(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.DataProduceRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	id, err := s.Orch.AddDataProducer(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

func (s *Server) handleAddDataConsumer(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.DataConsumeRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return s.Orch.AddDataConsumer(ctx, req)
}

func (s *Server) handleConsumeExisting(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.Scope
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	n, err := s.Orch.ConsumeExistingProducers(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]int{"announced": n}, nil
}

func (s *Server) handleConsumeExistingData(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.Scope
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	n, err := s.Orch.ConsumeExistingDataProducers(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]int{"announced": n}, nil
}

func (s *Server) entityUpdate(entity domain.EntityType) handlerFunc {
	return func(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
		var req orch.UpdateRequest
		if err := codec.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return nil, s.Orch.EntityUpdate(ctx, entity, req)
	}
}

func (s *Server) handleRemovePeer(ctx context.Context, c *Conn, codec Codec, data []byte) (any, error) {
	var req orch.Scope
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := s.Orch.RemovePeer(ctx, req); err != nil {
		return nil, err
	}
	s.Hub.Unbind(req.RoomID, req.User.ID, c)
	return nil, nil
}

func (s *Server) handleRemoveRoom(ctx context.Context, _ *Conn, codec Codec, data []byte) (any, error) {
	var req orch.Scope
	if err := codec.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return nil, s.Orch.RemoveRoom(ctx, req)
}

func (s *Server) handlePing(_ context.Context, c *Conn, _ Codec, _ []byte) (any, error) {
	return nil, c.Send(Outbound{Event: "pong"})
}
