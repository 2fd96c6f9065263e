package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/rs/zerolog/log"
)

var errUnknownProducer = errors.New("rtc: unknown producer")

// Router indexes the producers of its transports so consumers on any other
// transport of the same router can attach to them.
type Router struct {
	handle
	worker *Worker
	caps   core.RtpCapabilities

	mu            sync.Mutex
	transports    map[string]*Transport
	producers     map[string]*Producer
	dataProducers map[string]*DataProducer
}

func newRouter(w *Worker, codecs []core.RtpCodecCapability) *Router {
	if len(codecs) == 0 {
		codecs = core.DefaultCodecs()
	}
	return &Router{
		handle:        newHandle(uuid.NewString()),
		worker:        w,
		caps:          core.RtpCapabilities{Codecs: codecs},
		transports:    make(map[string]*Transport),
		producers:     make(map[string]*Producer),
		dataProducers: make(map[string]*DataProducer),
	}
}

func (r *Router) WorkerID() string                      { return r.worker.id }
func (r *Router) RtpCapabilities() core.RtpCapabilities { return r.caps }

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	_, ok = core.ConsumableParameters(p.rtp, caps)
	return ok
}

func (r *Router) CreateTransport(ctx context.Context, opts core.TransportOptions) (core.Transport, error) {
	if r.closed() {
		return nil, fmt.Errorf("rtc: router %s closed", r.id)
	}
	t, err := newTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("router", r.id).Str("transport", t.id).Msg("transport created")
	return t, nil
}

func (r *Router) Close() error {
	r.close(func() {
		r.mu.Lock()
		transports := r.transports
		r.transports = make(map[string]*Transport)
		r.mu.Unlock()
		for _, t := range transports {
			_ = t.Close()
		}
		r.worker.forget(r.id)
	})
	return nil
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) dataProducer(id string) (*DataProducer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.dataProducers[id]
	return p, ok
}

func (r *Router) forgetTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) forgetProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	delete(r.dataProducers, id)
	r.mu.Unlock()
}
