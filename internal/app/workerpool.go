package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/parbhatia/gospace-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
)

type SelectPolicy string

const (
	PolicyRoundRobin  SelectPolicy = "round_robin"
	PolicyLeastLoaded SelectPolicy = "least_loaded"
)

func ParseSelectPolicy(s string) (SelectPolicy, error) {
	switch SelectPolicy(s) {
	case "", PolicyRoundRobin:
		return PolicyRoundRobin, nil
	case PolicyLeastLoaded:
		return PolicyLeastLoaded, nil
	}
	return "", fmt.Errorf("unknown worker policy %q", s)
}

type PoolOptions struct {
	// Count defaults to the number of CPUs.
	Count    int
	Policy   SelectPolicy
	Settings core.WorkerSettings
	Metrics  *metrics.Metrics
}

// WorkerDiedFunc is told about a worker that stopped on its own. err wraps
// domain.ErrWorkerFatal.
type WorkerDiedFunc func(w core.Worker, err error)

type WorkerPool struct {
	workers []core.Worker
	policy  SelectPolicy
	metrics *metrics.Metrics
	next    atomic.Uint64

	mu   sync.Mutex
	subs []WorkerDiedFunc

	stop     chan struct{}
	stopOnce sync.Once
	watchers sync.WaitGroup
}

func NewWorkerPool(ctx context.Context, engine core.Engine, opts PoolOptions) (*WorkerPool, error) {
	if opts.Count <= 0 {
		opts.Count = runtime.NumCPU()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRoundRobin
	}
	p := &WorkerPool{
		policy:  opts.Policy,
		metrics: opts.Metrics,
		stop:    make(chan struct{}),
	}
	for i := 0; i < opts.Count; i++ {
		w, err := engine.CreateWorker(ctx, opts.Settings)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("%w: create worker %d: %v", domain.ErrMediaEngineFailure, i, err)
		}
		p.workers = append(p.workers, w)
		log.Info().Str("module", "app.pool").Str("worker", w.ID()).Int("pid", w.PID()).Msg("worker started")
	}
	for _, w := range p.workers {
		p.watchers.Add(1)
		go p.watch(w)
	}
	log.Info().Str("module", "app.pool").Int("workers", len(p.workers)).Str("policy", string(p.policy)).Msg("worker pool ready")
	return p, nil
}

// OnWorkerDied subscribes fn to worker deaths.
func (p *WorkerPool) OnWorkerDied(fn WorkerDiedFunc) {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

func (p *WorkerPool) watch(w core.Worker) {
	defer p.watchers.Done()
	select {
	case <-p.stop:
		return
	case <-w.Died():
	}

	cause := w.Err()
	if cause == nil {
		cause = errors.New("worker exited")
	}
	err := fmt.Errorf("%w: %s: %v", domain.ErrWorkerFatal, w.ID(), cause)
	log.Error().Err(err).Str("module", "app.pool").Str("worker", w.ID()).Int("pid", w.PID()).Msg("worker died")
	p.metrics.WorkerDied()

	p.mu.Lock()
	subs := append([]WorkerDiedFunc(nil), p.subs...)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(w, err)
	}
}

func alive(w core.Worker) bool {
	select {
	case <-w.Died():
		return false
	default:
		return true
	}
}

// SelectWorker picks a live worker for a new room.
func (p *WorkerPool) SelectWorker() (core.Worker, error) {
	if p.policy == PolicyLeastLoaded {
		return p.leastLoaded()
	}
	return p.roundRobin()
}

func (p *WorkerPool) roundRobin() (core.Worker, error) {
	n := uint64(len(p.workers))
	for i := uint64(0); i < n; i++ {
		w := p.workers[(p.next.Add(1)-1)%n]
		if alive(w) {
			return w, nil
		}
	}
	return nil, domain.ErrNoWorkers
}

func (p *WorkerPool) leastLoaded() (core.Worker, error) {
	var best core.Worker
	bestLoad := 0
	for _, w := range p.workers {
		if !alive(w) {
			continue
		}
		if load := w.Load(); best == nil || load < bestLoad {
			best, bestLoad = w, load
		}
	}
	if best == nil {
		return nil, domain.ErrNoWorkers
	}
	return best, nil
}

func (p *WorkerPool) Workers() []core.Worker {
	return append([]core.Worker(nil), p.workers...)
}

// Alive counts workers that have not died.
func (p *WorkerPool) Alive() int {
	n := 0
	for _, w := range p.workers {
		if alive(w) {
			n++
		}
	}
	return n
}

// Close stops watching and closes every worker.
func (p *WorkerPool) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.watchers.Wait()
		for _, w := range p.workers {
			if err := w.Close(); err != nil {
				log.Warn().Err(err).Str("module", "app.pool").Str("worker", w.ID()).Msg("close worker")
			}
		}
		log.Info().Str("module", "app.pool").Msg("worker pool closed")
	})
}
