package core

import (
	"context"
	"fmt"

	"github.com/parbhatia/gospace-sub000/internal/domain"
)

// Origin tells who asked for an entity update.
type Origin int

const (
	OriginClient Origin = iota
	OriginEngine
	OriginCascade
)

func (o Origin) String() string {
	switch o {
	case OriginClient:
		return "client"
	case OriginEngine:
		return "engine"
	case OriginCascade:
		return "cascade"
	}
	return "unknown"
}

type EntityUpdate struct {
	Entity domain.EntityType
	Type   domain.UpdateType
	ID     string
	Origin Origin
}

type updateKey struct {
	entity domain.EntityType
	update domain.UpdateType
}

type updateFunc func(p *Peer, ctx context.Context, u EntityUpdate) error

var updateTable = map[updateKey]updateFunc{
	{domain.EntityTransport, domain.UpdateClose}:    (*Peer).closeEntity,
	{domain.EntityProducer, domain.UpdateClose}:     (*Peer).closeEntity,
	{domain.EntityConsumer, domain.UpdateClose}:     (*Peer).closeEntity,
	{domain.EntityDataProducer, domain.UpdateClose}: (*Peer).closeEntity,
	{domain.EntityDataConsumer, domain.UpdateClose}: (*Peer).closeEntity,

	{domain.EntityProducer, domain.UpdatePause}:      pause,
	{domain.EntityProducer, domain.UpdateResume}:     resume,
	{domain.EntityConsumer, domain.UpdatePause}:      pause,
	{domain.EntityConsumer, domain.UpdateResume}:     resume,
	{domain.EntityDataProducer, domain.UpdatePause}:  pause,
	{domain.EntityDataProducer, domain.UpdateResume}: resume,
	{domain.EntityDataConsumer, domain.UpdatePause}:  pause,
	{domain.EntityDataConsumer, domain.UpdateResume}: resume,
}

// HandleEntityUpdate applies a close, pause or resume to one of the peer's
// resources. An unknown id is not an error: the resource is already gone.
func (p *Peer) HandleEntityUpdate(ctx context.Context, u EntityUpdate) error {
	fn, ok := updateTable[updateKey{u.Entity, u.Type}]
	if !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrUnsupportedUpdate, u.Type, u.Entity)
	}
	return fn(p, ctx, u)
}

func (p *Peer) pausable(entity domain.EntityType, id string) Pausable {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch entity {
	case domain.EntityProducer:
		if h, ok := p.producers[id]; ok {
			return h
		}
	case domain.EntityConsumer:
		if h, ok := p.consumers[id]; ok {
			return h
		}
	case domain.EntityDataProducer:
		if h, ok := p.dataProducers[id]; ok {
			return h
		}
	case domain.EntityDataConsumer:
		if h, ok := p.dataConsumers[id]; ok {
			return h
		}
	}
	return nil
}

func pause(p *Peer, ctx context.Context, u EntityUpdate) error {
	h := p.pausable(u.Entity, u.ID)
	if h == nil {
		return nil
	}
	if err := h.Pause(ctx); err != nil {
		return engineErr("pause "+string(u.Entity), err)
	}
	p.logger.Debug().Str("entity", string(u.Entity)).Str("id", u.ID).Msg("paused")
	return nil
}

func resume(p *Peer, ctx context.Context, u EntityUpdate) error {
	h := p.pausable(u.Entity, u.ID)
	if h == nil {
		return nil
	}
	if err := h.Resume(ctx); err != nil {
		return engineErr("resume "+string(u.Entity), err)
	}
	p.logger.Debug().Str("entity", string(u.Entity)).Str("id", u.ID).Msg("resumed")
	return nil
}

// closeEntity is the single removal path for all three close triggers. The
// entry is detached under the lock and the engine handle is closed after it
// is released, so a second trigger for the same id finds nothing.
func (p *Peer) closeEntity(_ context.Context, u EntityUpdate) error {
	var (
		victims []Handle
		notice  func()
	)

	p.mu.Lock()
	switch u.Entity {
	case domain.EntityTransport:
		t, ok := p.transports[u.ID]
		if !ok {
			break
		}
		delete(p.transports, u.ID)
		delete(p.producerTransports, u.ID)
		delete(p.consumerTransports, u.ID)
		for rid, tid := range p.owner {
			if tid != u.ID {
				continue
			}
			if h := p.detachLocked(rid); h != nil {
				victims = append(victims, h)
			}
		}
		victims = append(victims, t)
	case domain.EntityConsumer:
		c, ok := p.consumers[u.ID]
		if !ok {
			break
		}
		p.detachLocked(u.ID)
		victims = append(victims, c)
		if u.Origin == OriginEngine {
			ev := ConsumerClosedEvent{ConsumerID: c.ID(), ProducerID: c.ProducerID()}
			notice = func() { p.notifySelf(EventConsumerClosed, ev) }
		}
	case domain.EntityDataConsumer:
		dc, ok := p.dataConsumers[u.ID]
		if !ok {
			break
		}
		p.detachLocked(u.ID)
		victims = append(victims, dc)
		if u.Origin == OriginEngine {
			ev := DataConsumerClosedEvent{DataConsumerID: dc.ID(), DataProducerID: dc.DataProducerID()}
			notice = func() { p.notifySelf(EventDataConsumerClosed, ev) }
		}
	default:
		if h := p.detachLocked(u.ID); h != nil {
			victims = append(victims, h)
		}
	}
	p.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}
	for _, h := range victims {
		closeHandle(h, p.logger)
	}
	if notice != nil {
		notice()
	}
	p.logger.Info().
		Str("entity", string(u.Entity)).
		Str("id", u.ID).
		Str("origin", u.Origin.String()).
		Int("closed", len(victims)).
		Msg("entity closed")
	return nil
}

// detachLocked removes a producer or consumer of either kind and returns its
// handle, or nil when id is unknown.
func (p *Peer) detachLocked(id string) Handle {
	var h Handle
	if v, ok := p.producers[id]; ok {
		h = v
		delete(p.producers, id)
	} else if v, ok := p.consumers[id]; ok {
		h = v
		delete(p.consumers, id)
	} else if v, ok := p.dataProducers[id]; ok {
		h = v
		delete(p.dataProducers, id)
	} else if v, ok := p.dataConsumers[id]; ok {
		h = v
		delete(p.dataConsumers, id)
	} else {
		return nil
	}
	delete(p.owner, id)
	delete(p.appData, id)
	return h
}

// watch turns the engine's close signal into an update on the common path.
func (p *Peer) watch(entity domain.EntityType, id string, done <-chan struct{}) {
	<-done
	_ = p.HandleEntityUpdate(context.Background(), EntityUpdate{
		Entity: entity,
		Type:   domain.UpdateClose,
		ID:     id,
		Origin: OriginEngine,
	})
}
