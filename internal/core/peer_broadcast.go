package core

import "github.com/parbhatia/gospace-sub000/internal/domain"

func (p *Peer) notifySelf(event string, payload any) {
	if err := p.room.notify.NotifyPeer(p.room.id, p.user.ID, event, payload); err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("notify owner failed")
	}
}

// BroadcastProducersToPeer announces each of this peer's producers to target,
// one newProducer per producer. It returns the number delivered.
func (p *Peer) BroadcastProducersToPeer(target domain.UserID) int {
	p.mu.Lock()
	events := make([]NewProducerEvent, 0, len(p.producers))
	for id, prod := range p.producers {
		events = append(events, p.newProducerEvent(prod, p.appData[id]))
	}
	p.mu.Unlock()

	sent := 0
	for _, ev := range events {
		if err := p.room.notify.NotifyPeer(p.room.id, target, EventNewProducer, ev); err != nil {
			p.logger.Warn().Err(err).Str("target", string(target)).Msg("catch-up newProducer failed")
			continue
		}
		sent++
	}
	return sent
}

func (p *Peer) BroadcastDataProducersToPeer(target domain.UserID) int {
	p.mu.Lock()
	events := make([]NewDataProducerEvent, 0, len(p.dataProducers))
	for id, dp := range p.dataProducers {
		events = append(events, p.newDataProducerEvent(dp, p.appData[id]))
	}
	p.mu.Unlock()

	sent := 0
	for _, ev := range events {
		if err := p.room.notify.NotifyPeer(p.room.id, target, EventNewDataProducer, ev); err != nil {
			p.logger.Warn().Err(err).Str("target", string(target)).Msg("catch-up newDataProducer failed")
			continue
		}
		sent++
	}
	return sent
}
