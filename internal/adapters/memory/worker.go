package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
)

var errWorkerClosed = errors.New("memory engine: worker closed")

type Worker struct {
	engine   *Engine
	id       string
	pid      int
	settings core.WorkerSettings

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
	err     error

	died     chan struct{}
	diedOnce sync.Once
}

func (w *Worker) ID() string            { return w.id }
func (w *Worker) PID() int              { return w.pid }
func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) Load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

func (w *Worker) CreateRouter(_ context.Context, codecs []core.RtpCodecCapability) (core.Router, error) {
	if err := w.engine.fail(OpCreateRouter); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("%w: %s", errWorkerClosed, w.id)
	}
	r := newRouter(w, uuid.NewString(), codecs)
	w.routers[r.id] = r
	w.engine.routersCreated.Add(1)
	return r, nil
}

func (w *Worker) Close() error {
	w.shutdown(nil)
	return nil
}

func (w *Worker) die(cause error) bool {
	if cause == nil {
		cause = errors.New("memory engine: worker killed")
	}
	if !w.shutdown(cause) {
		return false
	}
	w.diedOnce.Do(func() { close(w.died) })
	return true
}

func (w *Worker) shutdown(cause error) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.closed = true
	w.err = cause
	routers := w.routers
	w.routers = make(map[string]*Router)
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return true
}

func (w *Worker) forget(routerID string) {
	w.mu.Lock()
	delete(w.routers, routerID)
	w.mu.Unlock()
}
