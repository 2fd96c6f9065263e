package orch

import (
	"context"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

type TransportRequest struct {
	Scope
	Direction domain.Direction `json:"direction"`
}

func (o *Orchestrator) CreateTransport(ctx context.Context, req TransportRequest) (core.TransportParams, error) {
	_, p, err := o.peer(req.Scope)
	if err != nil {
		return core.TransportParams{}, err
	}
	dir, err := domain.ParseDirection(string(req.Direction))
	if err != nil {
		return core.TransportParams{}, err
	}
	return p.CreateTransport(ctx, dir, o.EnableSctp)
}

type ConnectRequest struct {
	Scope
	core.ConnectParams
	TransportID string           `json:"transportId"`
	Direction   domain.Direction `json:"direction,omitempty"`
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, req ConnectRequest) error {
	_, p, err := o.peer(req.Scope)
	if err != nil {
		return err
	}
	return p.ConnectTransport(ctx, req.TransportID, req.ConnectParams)
}

type ProduceRequest struct {
	Scope
	core.ProduceOptions
	TransportID string `json:"transportId"`
}

func (o *Orchestrator) AddProducer(ctx context.Context, req ProduceRequest) (string, error) {
	_, p, err := o.peer(req.Scope)
	if err != nil {
		return "", err
	}
	if _, err := domain.ParseMediaKind(string(req.Kind)); err != nil {
		return "", err
	}
	return p.AddProducer(ctx, req.TransportID, req.ProduceOptions)
}

type ConsumeRequest struct {
	Scope
	core.ConsumeOptions
	TransportID string `json:"transportId"`
}

func (o *Orchestrator) AddConsumer(ctx context.Context, req ConsumeRequest) (core.ConsumerParams, error) {
	_, p, err := o.peer(req.Scope)
	if err != nil {
		return core.ConsumerParams{}, err
	}
	return p.AddConsumer(ctx, req.TransportID, req.ConsumeOptions)
}

type DataProduceRequest struct {
	Scope
	core.DataProduceOptions
	TransportID string `json:"transportId"`
}

func (o *Orchestrator) AddDataProducer(ctx context.Context, req DataProduceRequest) (string, error) {
	_, p, err := o.peer(req.Scope)
	if err != nil {
		return "", err
	}
	return p.AddDataProducer(ctx, req.TransportID, req.DataProduceOptions)
}

type DataConsumeRequest struct {
	Scope
	core.DataConsumeOptions
	TransportID string `json:"transportId"`
}

func (o *Orchestrator) AddDataConsumer(ctx context.Context, req DataConsumeRequest) (core.DataConsumerParams, error) {
	_, p, err := o.peer(req.Scope)
	if err != nil {
		return core.DataConsumerParams{}, err
	}
	return p.AddDataConsumer(ctx, req.TransportID, req.DataConsumeOptions)
}

type UpdateRequest struct {
	Scope
	ID   string            `json:"id"`
	Type domain.UpdateType `json:"updateType"`
}

// EntityUpdate applies a client close, pause or resume. Unknown rooms, peers
// and ids are not errors: the resource is already gone.
func (o *Orchestrator) EntityUpdate(ctx context.Context, entity domain.EntityType, req UpdateRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	kind, err := domain.ParseUpdateType(string(req.Type))
	if err != nil {
		return err
	}
	_, p, err := o.peer(req.Scope)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("entity", string(entity)).Str("id", req.ID).Msg("update for absent peer ignored")
		return nil
	}
	return p.HandleEntityUpdate(ctx, core.EntityUpdate{
		Entity: entity,
		Type:   kind,
		ID:     req.ID,
		Origin: core.OriginClient,
	})
}
