package rtc

import "sync"

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

func (h *handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) close(teardown func()) {
	h.once.Do(func() {
		if teardown != nil {
			teardown()
		}
		close(h.done)
	})
}
