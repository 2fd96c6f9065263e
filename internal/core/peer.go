package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Peer is one client's complete resource set inside a room. Every handle it
// stores is owned by it alone.
type Peer struct {
	room   *Room
	user   domain.UserMeta
	router Router
	logger zerolog.Logger

	mu                 sync.Mutex
	transports         map[string]Transport
	producerTransports map[string]Transport
	consumerTransports map[string]Transport
	producers          map[string]Producer
	consumers          map[string]Consumer
	dataProducers      map[string]DataProducer
	dataConsumers      map[string]DataConsumer
	// owner maps a producer/consumer id of either kind to its transport id.
	owner    map[string]string
	appData  map[string]map[string]any
	released bool
}

func newPeer(room *Room, user domain.UserMeta) *Peer {
	p := &Peer{
		room:   room,
		user:   user,
		router: room.router,
		logger: log.With().
			Str("module", "core.peer").
			Str("room", string(room.id)).
			Str("user", string(user.ID)).
			Logger(),
	}
	p.reset()
	return p
}

func (p *Peer) reset() {
	p.transports = make(map[string]Transport)
	p.producerTransports = make(map[string]Transport)
	p.consumerTransports = make(map[string]Transport)
	p.producers = make(map[string]Producer)
	p.consumers = make(map[string]Consumer)
	p.dataProducers = make(map[string]DataProducer)
	p.dataConsumers = make(map[string]DataConsumer)
	p.owner = make(map[string]string)
	p.appData = make(map[string]map[string]any)
}

func (p *Peer) User() domain.UserMeta { return p.user }

func (p *Peer) Summary() domain.MemberSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.MemberSummary{
		ID:        p.user.ID,
		Name:      p.user.Name,
		Producers: len(p.producers) + len(p.dataProducers),
		Consumers: len(p.consumers) + len(p.dataConsumers),
	}
}

// HasReceiveTransport reports whether the peer can consume yet.
func (p *Peer) HasReceiveTransport() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.consumerTransports) > 0
}

func engineErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrMediaEngineFailure, op, err)
}

// CreateTransport asks the router for a fresh transport. Each call yields a
// distinct server-side transport.
func (p *Peer) CreateTransport(ctx context.Context, dir domain.Direction, enableSctp bool) (TransportParams, error) {
	t, err := p.router.CreateTransport(ctx, TransportOptions{
		Direction:  dir,
		EnableSctp: enableSctp,
		AppData:    map[string]any{"peerId": string(p.user.ID), "direction": string(dir)},
	})
	if err != nil {
		return TransportParams{}, engineErr("create transport", err)
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		_ = t.Close()
		return TransportParams{}, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, p.user.ID)
	}
	p.transports[t.ID()] = t
	if dir == domain.DirectionSend {
		p.producerTransports[t.ID()] = t
	} else {
		p.consumerTransports[t.ID()] = t
	}
	p.mu.Unlock()

	go p.watch(domain.EntityTransport, t.ID(), t.Done())
	p.logger.Info().Str("transport", t.ID()).Str("direction", string(dir)).Msg("transport created")
	return t.Params(), nil
}

func (p *Peer) ConnectTransport(ctx context.Context, transportID string, params ConnectParams) error {
	p.mu.Lock()
	t, ok := p.transports[transportID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	if err := t.Connect(ctx, params); err != nil {
		return engineErr("connect transport", err)
	}
	p.logger.Info().Str("transport", transportID).Msg("transport connected")
	return nil
}

func (p *Peer) lookup(set map[string]Transport, transportID string) (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := set[transportID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	return t, nil
}

// own records a handle created on transportID. It returns false if the peer
// or the transport went away while the engine call was in flight, in which
// case the caller must close the handle.
func (p *Peer) own(transportID, id string, appData map[string]any, store func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	if _, ok := p.transports[transportID]; !ok {
		return false
	}
	store()
	p.owner[id] = transportID
	if appData != nil {
		p.appData[id] = appData
	}
	return true
}

// AddProducer creates a producer on a send transport and announces it to
// every other peer in the room.
func (p *Peer) AddProducer(ctx context.Context, transportID string, opts ProduceOptions) (string, error) {
	t, err := p.lookup(p.producerTransports, transportID)
	if err != nil {
		return "", err
	}
	prod, err := t.Produce(ctx, opts)
	if err != nil {
		return "", engineErr("produce", err)
	}
	if !p.own(transportID, prod.ID(), opts.AppData, func() { p.producers[prod.ID()] = prod }) {
		_ = prod.Close()
		return "", fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	go p.watch(domain.EntityProducer, prod.ID(), prod.Done())

	p.logger.Info().Str("producer", prod.ID()).Str("kind", string(opts.Kind)).Msg("producer added")
	p.room.Broadcast(p.user.ID, EventNewProducer, p.newProducerEvent(prod, opts.AppData))
	return prod.ID(), nil
}

func (p *Peer) AddConsumer(ctx context.Context, transportID string, opts ConsumeOptions) (ConsumerParams, error) {
	t, err := p.lookup(p.consumerTransports, transportID)
	if err != nil {
		return ConsumerParams{}, err
	}
	if !p.router.CanConsume(opts.ProducerID, opts.RtpCapabilities) {
		return ConsumerParams{}, fmt.Errorf("%w: %s", domain.ErrCannotConsume, opts.ProducerID)
	}
	c, err := t.Consume(ctx, opts)
	if err != nil {
		return ConsumerParams{}, engineErr("consume", err)
	}
	if !p.own(transportID, c.ID(), opts.AppData, func() { p.consumers[c.ID()] = c }) {
		_ = c.Close()
		return ConsumerParams{}, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	go p.watch(domain.EntityConsumer, c.ID(), c.Done())

	p.logger.Info().Str("consumer", c.ID()).Str("producer", opts.ProducerID).Msg("consumer added")
	return c.Params(), nil
}

// AddDataProducer is the SCTP counterpart of AddProducer.
func (p *Peer) AddDataProducer(ctx context.Context, transportID string, opts DataProduceOptions) (string, error) {
	t, err := p.lookup(p.producerTransports, transportID)
	if err != nil {
		return "", err
	}
	dp, err := t.ProduceData(ctx, opts)
	if err != nil {
		return "", engineErr("produce data", err)
	}
	if !p.own(transportID, dp.ID(), opts.AppData, func() { p.dataProducers[dp.ID()] = dp }) {
		_ = dp.Close()
		return "", fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	go p.watch(domain.EntityDataProducer, dp.ID(), dp.Done())

	p.logger.Info().Str("data_producer", dp.ID()).Str("label", opts.Label).Msg("data producer added")
	p.room.Broadcast(p.user.ID, EventNewDataProducer, p.newDataProducerEvent(dp, opts.AppData))
	return dp.ID(), nil
}

func (p *Peer) AddDataConsumer(ctx context.Context, transportID string, opts DataConsumeOptions) (DataConsumerParams, error) {
	t, err := p.lookup(p.consumerTransports, transportID)
	if err != nil {
		return DataConsumerParams{}, err
	}
	dc, err := t.ConsumeData(ctx, opts)
	if err != nil {
		return DataConsumerParams{}, engineErr("consume data", err)
	}
	if !p.own(transportID, dc.ID(), opts.AppData, func() { p.dataConsumers[dc.ID()] = dc }) {
		_ = dc.Close()
		return DataConsumerParams{}, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	go p.watch(domain.EntityDataConsumer, dc.ID(), dc.Done())

	p.logger.Info().Str("data_consumer", dc.ID()).Str("data_producer", opts.DataProducerID).Msg("data consumer added")
	return dc.Params(), nil
}

// Reinitialize tears down every resource of a stale session while keeping
// the peer registered, so a reconnecting client starts from a clean slate.
func (p *Peer) Reinitialize(ctx context.Context) {
	n := p.releaseAll(ctx, false)
	p.logger.Info().Int("resources", n).Msg("peer reinitialized")
}

// Release closes every resource. It is idempotent.
func (p *Peer) Release(ctx context.Context) {
	n := p.releaseAll(ctx, true)
	if n > 0 {
		p.logger.Info().Int("resources", n).Msg("peer released")
	}
}

func (p *Peer) releaseAll(_ context.Context, final bool) int {
	p.mu.Lock()
	var handles []Handle
	for _, h := range p.dataConsumers {
		handles = append(handles, h)
	}
	for _, h := range p.consumers {
		handles = append(handles, h)
	}
	for _, h := range p.dataProducers {
		handles = append(handles, h)
	}
	for _, h := range p.producers {
		handles = append(handles, h)
	}
	for _, h := range p.transports {
		handles = append(handles, h)
	}
	p.reset()
	if final {
		p.released = true
	}
	p.mu.Unlock()

	for _, h := range handles {
		closeHandle(h, p.logger)
	}
	return len(handles)
}

func closeHandle(h Handle, logger zerolog.Logger) {
	if err := h.Close(); err != nil {
		logger.Warn().Err(err).Str("id", h.ID()).Msg("engine close failed")
	}
}

func (p *Peer) newProducerEvent(prod Producer, appData map[string]any) NewProducerEvent {
	return NewProducerEvent{
		PeerID:     p.user.ID,
		PeerName:   p.user.Name,
		ProducerID: prod.ID(),
		Kind:       prod.Kind(),
		AppData:    appData,
	}
}

func (p *Peer) newDataProducerEvent(dp DataProducer, appData map[string]any) NewDataProducerEvent {
	return NewDataProducerEvent{
		PeerID:         p.user.ID,
		PeerName:       p.user.Name,
		DataProducerID: dp.ID(),
		Label:          dp.Label(),
		Protocol:       dp.Protocol(),
		AppData:        appData,
	}
}
