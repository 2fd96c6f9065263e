package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
)

var (
	errRouterClosed    = errors.New("memory engine: router closed")
	errUnknownProducer = errors.New("memory engine: unknown producer")
)

type Router struct {
	handle
	worker *Worker
	caps   core.RtpCapabilities

	mu            sync.Mutex
	transports    map[string]*Transport
	producers     map[string]*Producer
	dataProducers map[string]*DataProducer
}

func newRouter(w *Worker, id string, codecs []core.RtpCodecCapability) *Router {
	if len(codecs) == 0 {
		codecs = core.DefaultCodecs()
	}
	return &Router{
		handle:        newHandle(id),
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
	_, ok = consumerParameters(p, caps)
	return ok
}

// consumerParameters falls back to a kind match when the producer declared
// no codecs.
func consumerParameters(p *Producer, caps core.RtpCapabilities) (core.RtpParameters, bool) {
	if len(p.rtp.Codecs) > 0 {
		return core.ConsumableParameters(p.rtp, caps)
	}
	for _, c := range caps.Codecs {
		if c.Kind == p.kind || core.KindOfMime(c.MimeType) == string(p.kind) {
			return p.rtp, true
		}
	}
	return core.RtpParameters{}, false
}

func (r *Router) CreateTransport(_ context.Context, opts core.TransportOptions) (core.Transport, error) {
	if err := r.worker.engine.fail(OpCreateTransport); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() {
		return nil, fmt.Errorf("%w: %s", errRouterClosed, r.id)
	}
	t := newTransport(r, uuid.NewString(), opts)
	r.transports[t.id] = t
	r.worker.engine.transportsCreated.Add(1)
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

// Transport returns a live transport of the router.
func (r *Router) Transport(id string) (*Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[id]
	return t, ok
}

// Producer returns a live producer of the router.
func (r *Router) Producer(id string) (*Producer, bool) {
	return r.producer(id)
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
