package rtc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errWorkerClosed = errors.New("rtc: worker closed")

// Worker is one webrtc.API and every router on it. A panic in any goroutine
// the worker started kills the worker.
type Worker struct {
	id         string
	api        *webrtc.API
	iceServers []webrtc.ICEServer

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
	err     error

	died     chan struct{}
	diedOnce sync.Once
}

func newWorker(id string, api *webrtc.API, iceServers []webrtc.ICEServer) *Worker {
	return &Worker{
		id:         id,
		api:        api,
		iceServers: iceServers,
		routers:    make(map[string]*Router),
		died:       make(chan struct{}),
	}
}

func (w *Worker) ID() string            { return w.id }
func (w *Worker) PID() int              { return os.Getpid() }
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
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("%w: %s", errWorkerClosed, w.id)
	}
	r := newRouter(w, codecs)
	w.routers[r.id] = r
	log.Info().Str("module", "rtc").Str("worker", w.id).Str("router", r.id).Msg("router created")
	return r, nil
}

// goSafe runs fn on a new goroutine and turns a panic into a worker death.
func (w *Worker) goSafe(name string, fn func()) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				w.die(fmt.Errorf("panic in %s: %v", name, rec))
			}
		}()
		fn()
	}()
}

func (w *Worker) die(cause error) {
	log.Error().Err(cause).Str("module", "rtc").Str("worker", w.id).Msg("worker crashed")
	if w.shutdown(cause) {
		w.diedOnce.Do(func() { close(w.died) })
	}
}

func (w *Worker) Close() error {
	w.shutdown(nil)
	return nil
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
