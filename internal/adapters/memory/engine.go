// Package memory is a media engine that keeps all state in process and moves
// no packets. It backs tests and the "memory" engine setting.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/rs/zerolog/log"
)

// ErrInjected is returned by an operation armed with FailNext.
var ErrInjected = errors.New("memory engine: injected failure")

// Operation names accepted by FailNext.
const (
	OpCreateWorker    = "createWorker"
	OpCreateRouter    = "createRouter"
	OpCreateTransport = "createTransport"
	OpConnect         = "connect"
	OpProduce         = "produce"
	OpConsume         = "consume"
	OpProduceData     = "produceData"
	OpConsumeData     = "consumeData"
	OpPause           = "pause"
	OpResume          = "resume"
)

type Engine struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	failures map[string]int

	routersCreated    atomic.Int64
	transportsCreated atomic.Int64
}

func NewEngine() *Engine {
	return &Engine{
		workers:  make(map[string]*Worker),
		failures: make(map[string]int),
	}
}

func (e *Engine) CreateWorker(_ context.Context, settings core.WorkerSettings) (core.Worker, error) {
	if err := e.fail(OpCreateWorker); err != nil {
		return nil, err
	}
	w := &Worker{
		engine:   e,
		id:       uuid.NewString(),
		pid:      os.Getpid(),
		settings: settings,
		died:     make(chan struct{}),
		routers:  make(map[string]*Router),
	}
	e.mu.Lock()
	e.workers[w.id] = w
	e.mu.Unlock()
	log.Debug().Str("module", "memory").Str("worker", w.id).Msg("worker created")
	return w, nil
}

// FailNext makes the next call of op return ErrInjected.
func (e *Engine) FailNext(op string) {
	e.mu.Lock()
	e.failures[op]++
	e.mu.Unlock()
}

func (e *Engine) fail(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures[op] == 0 {
		return nil
	}
	e.failures[op]--
	return fmt.Errorf("%w: %s", ErrInjected, op)
}

// Kill simulates a crash of the worker: Died closes, Err reports cause and
// every router on it is closed.
func (e *Engine) Kill(workerID string, cause error) bool {
	e.mu.Lock()
	w, ok := e.workers[workerID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return w.die(cause)
}

func (e *Engine) RoutersCreated() int64    { return e.routersCreated.Load() }
func (e *Engine) TransportsCreated() int64 { return e.transportsCreated.Load() }

// Workers lists every worker created so far, dead or alive.
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Worker, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w)
	}
	return out
}

var (
	_ core.Engine       = (*Engine)(nil)
	_ core.Worker       = (*Worker)(nil)
	_ core.Router       = (*Router)(nil)
	_ core.Transport    = (*Transport)(nil)
	_ core.Producer     = (*Producer)(nil)
	_ core.Consumer     = (*Consumer)(nil)
	_ core.DataProducer = (*DataProducer)(nil)
	_ core.DataConsumer = (*DataConsumer)(nil)
)
