package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/parbhatia/gospace-sub000/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type RegistryOptions struct {
	Codecs []core.RtpCodecCapability
	// ReapEmpty removes a room once its last peer has left.
	ReapEmpty bool
	Metrics   *metrics.Metrics
}

// SessionRegistry is the single source of truth for which rooms exist.
type SessionRegistry struct {
	pool   *WorkerPool
	notify core.Notifier
	opts   RegistryOptions

	mu       sync.RWMutex
	rooms    map[domain.RoomID]*core.Room
	workerOf map[domain.RoomID]string

	creating singleflight.Group

	subsMu  sync.Mutex
	removed []RoomRemovedFunc
}

// RoomRemovedFunc is told the id of a room that left the registry, whatever
// the cause: explicit removal, reaping or worker death.
type RoomRemovedFunc func(id domain.RoomID)

func NewSessionRegistry(pool *WorkerPool, notify core.Notifier, opts RegistryOptions) *SessionRegistry {
	if len(opts.Codecs) == 0 {
		opts.Codecs = core.DefaultCodecs()
	}
	r := &SessionRegistry{
		pool:     pool,
		notify:   notify,
		opts:     opts,
		rooms:    make(map[domain.RoomID]*core.Room),
		workerOf: make(map[domain.RoomID]string),
	}
	pool.OnWorkerDied(r.onWorkerDied)
	return r
}

// OnRoomRemoved subscribes fn to room removals. fn runs while the registry is
// locked, before a room with the same id can be created again, so it must not
// call back into the registry.
func (r *SessionRegistry) OnRoomRemoved(fn RoomRemovedFunc) {
	r.subsMu.Lock()
	r.removed = append(r.removed, fn)
	r.subsMu.Unlock()
}

func (r *SessionRegistry) roomRemovedLocked(id domain.RoomID) {
	r.subsMu.Lock()
	subs := append([]RoomRemovedFunc(nil), r.removed...)
	r.subsMu.Unlock()
	for _, fn := range subs {
		fn(id)
	}
}

// CreateRoom allocates a worker and router for a new room. An empty id is
// replaced by a generated one.
func (r *SessionRegistry) CreateRoom(ctx context.Context, id domain.RoomID, name domain.RoomName) (*core.Room, error) {
	if id == "" {
		id = domain.RoomID(uuid.NewString())
	}
	if r.RoomExists(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomAlreadyExists, id)
	}
	return r.create(ctx, id, name)
}

// GetOrCreateRoom returns the room, creating it on first use. Concurrent
// callers for the same id share one creation.
func (r *SessionRegistry) GetOrCreateRoom(ctx context.Context, id domain.RoomID, name domain.RoomName) (*core.Room, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("%w: empty room id", domain.ErrBadPayload)
	}
	if room, err := r.GetRoom(id); err == nil {
		return room, false, nil
	}
	// Only the caller whose function runs can have created the room; callers
	// sharing an in-flight creation or finding it on re-check did not.
	created := false
	v, err, _ := r.creating.Do(string(id), func() (any, error) {
		if room, err := r.GetRoom(id); err == nil {
			return room, nil
		}
		room, err := r.create(ctx, id, name)
		if err == nil {
			created = true
		}
		return room, err
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*core.Room), created, nil
}

func (r *SessionRegistry) create(ctx context.Context, id domain.RoomID, name domain.RoomName) (*core.Room, error) {
	w, err := r.pool.SelectWorker()
	if err != nil {
		return nil, err
	}
	router, err := w.CreateRouter(ctx, r.opts.Codecs)
	if err != nil {
		return nil, fmt.Errorf("%w: create router: %v", domain.ErrMediaEngineFailure, err)
	}
	room := core.NewRoom(id, name, router, r.notify)

	r.mu.Lock()
	if _, ok := r.rooms[id]; ok {
		r.mu.Unlock()
		_ = router.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomAlreadyExists, id)
	}
	r.rooms[id] = room
	r.workerOf[id] = w.ID()
	r.mu.Unlock()

	r.opts.Metrics.RoomOpened()
	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("worker", w.ID()).Msg("room created")
	return room, nil
}

func (r *SessionRegistry) GetRoom(id domain.RoomID) (*core.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	return room, nil
}

func (r *SessionRegistry) RoomExists(id domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[id]
	return ok
}

// WorkerOf returns the id of the worker backing the room.
func (r *SessionRegistry) WorkerOf(id domain.RoomID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workerOf[id]
	return w, ok
}

func (r *SessionRegistry) Rooms() []domain.RoomSummary {
	r.mu.RLock()
	rooms := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// PeerCount sums the peers of every room.
func (r *SessionRegistry) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, room := range r.rooms {
		n += room.PeerCount()
	}
	return n
}

// RemoveRoom releases every peer of the room, closes its router and drops
// the entry. Removing an unknown id is a no-op.
func (r *SessionRegistry) RemoveRoom(ctx context.Context, id domain.RoomID) bool {
	r.mu.Lock()
	room, ok := r.rooms[id]
	if ok {
		delete(r.rooms, id)
		delete(r.workerOf, id)
		r.roomRemovedLocked(id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.closeRoom(ctx, room)
	return true
}

// ReapIfEmpty removes the room when reaping is enabled and no peer is left.
// A join racing with the reap sees ErrRoomNotFound from the closed room.
func (r *SessionRegistry) ReapIfEmpty(ctx context.Context, id domain.RoomID) bool {
	if !r.opts.ReapEmpty {
		return false
	}
	r.mu.Lock()
	room, ok := r.rooms[id]
	if !ok || !room.CloseIfEmpty() {
		r.mu.Unlock()
		return false
	}
	delete(r.rooms, id)
	delete(r.workerOf, id)
	r.roomRemovedLocked(id)
	r.mu.Unlock()

	r.closeRoom(ctx, room)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("empty room reaped")
	return true
}

func (r *SessionRegistry) closeRoom(ctx context.Context, room *core.Room) {
	if err := room.Close(ctx); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("room", string(room.ID())).Msg("close router")
	}
	r.opts.Metrics.RoomClosed()
	log.Info().Str("module", "app.registry").Str("room", string(room.ID())).Msg("room removed")
}

func (r *SessionRegistry) onWorkerDied(w core.Worker, err error) {
	r.mu.RLock()
	var orphans []domain.RoomID
	for id, wid := range r.workerOf {
		if wid == w.ID() {
			orphans = append(orphans, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range orphans {
		r.RemoveRoom(context.Background(), id)
	}
	log.Error().Err(err).Str("module", "app.registry").Str("worker", w.ID()).Int("rooms", len(orphans)).Msg("rooms of dead worker removed")
}

// Close removes every room.
func (r *SessionRegistry) Close(ctx context.Context) {
	r.mu.RLock()
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.RemoveRoom(ctx, id)
	}
}
