package memory

import (
	"context"
	"sync"
	"sync/atomic"
)

type handle struct {
	id   string
	done chan struct{}
	once sync.Once
}

func newHandle(id string) handle {
	return handle{id: id, done: make(chan struct{})}
}

func (h *handle) ID() string            { return h.id }
func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) isClosed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// close runs teardown once and then closes Done.
func (h *handle) close(teardown func()) bool {
	ran := false
	h.once.Do(func() {
		ran = true
		if teardown != nil {
			teardown()
		}
		close(h.done)
	})
	return ran
}

type pausable struct {
	engine *Engine
	paused atomic.Bool
}

func (p *pausable) Pause(context.Context) error {
	if err := p.engine.fail(OpPause); err != nil {
		return err
	}
	p.paused.Store(true)
	return nil
}

func (p *pausable) Resume(context.Context) error {
	if err := p.engine.fail(OpResume); err != nil {
		return err
	}
	p.paused.Store(false)
	return nil
}

func (p *pausable) Paused() bool { return p.paused.Load() }
