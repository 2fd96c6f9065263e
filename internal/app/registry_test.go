package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parbhatia/gospace-sub000/internal/adapters/memory"
	"github.com/parbhatia/gospace-sub000/internal/core"
	"github.com/parbhatia/gospace-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = core.NotifierFunc(func(domain.RoomID, domain.UserID, string, any) error { return nil })

func newRegistry(t *testing.T, workers int, reap bool) (*SessionRegistry, *memory.Engine) {
	t.Helper()
	pool, engine := newPool(t, workers, PolicyRoundRobin)
	r := NewSessionRegistry(pool, discard, RegistryOptions{ReapEmpty: reap})
	t.Cleanup(func() { r.Close(context.Background()) })
	return r, engine
}

func TestNeverCreatedRoom(t *testing.T) {
	r, _ := newRegistry(t, 1, true)

	assert.False(t, r.RoomExists("ghost"))
	_, err := r.GetRoom("ghost")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.False(t, r.RemoveRoom(context.Background(), "ghost"))
	assert.Empty(t, r.Rooms())
}

func TestCreateRoom(t *testing.T) {
	r, _ := newRegistry(t, 2, true)
	ctx := context.Background()

	room, err := r.CreateRoom(ctx, "", "lobby")
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID())
	assert.True(t, r.RoomExists(room.ID()))

	_, err = r.CreateRoom(ctx, room.ID(), "again")
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyExists)

	wid, ok := r.WorkerOf(room.ID())
	require.True(t, ok)
	assert.Equal(t, room.WorkerID(), wid)
}

func TestGetOrCreateSingleRouter(t *testing.T) {
	r, engine := newRegistry(t, 2, true)
	ctx := context.Background()

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		rooms   = map[*core.Room]bool{}
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, fresh, err := r.GetOrCreateRoom(ctx, "shared", "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			rooms[room] = true
			if fresh {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, rooms, 1)
	assert.Equal(t, 1, created, "only the creating caller reports a new room")
	assert.EqualValues(t, 1, engine.RoutersCreated())
	assert.Equal(t, 1, r.Count())
}

func TestRemoveRoomIdempotent(t *testing.T) {
	r, _ := newRegistry(t, 1, true)
	ctx := context.Background()
	room, _, err := r.GetOrCreateRoom(ctx, "r1", "")
	require.NoError(t, err)
	_, err = room.CreatePeer(domain.UserMeta{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.PeerCount())

	assert.True(t, r.RemoveRoom(ctx, "r1"))
	assert.False(t, r.RemoveRoom(ctx, "r1"))
	assert.False(t, r.RoomExists("r1"))
	assert.Equal(t, 0, room.PeerCount())
	assert.Equal(t, 0, r.PeerCount())
}

func TestReapIfEmpty(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 1, true)
	room, _, err := r.GetOrCreateRoom(ctx, "r1", "")
	require.NoError(t, err)
	_, err = room.CreatePeer(domain.UserMeta{ID: "a"})
	require.NoError(t, err)

	assert.False(t, r.ReapIfEmpty(ctx, "r1"))
	room.RemovePeer(ctx, "a")
	assert.True(t, r.ReapIfEmpty(ctx, "r1"))
	assert.False(t, r.RoomExists("r1"))

	// A stale handle on a reaped room refuses new peers.
	_, err = room.CreatePeer(domain.UserMeta{ID: "b"})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	keep, _ := newRegistry(t, 1, false)
	_, _, err = keep.GetOrCreateRoom(ctx, "r2", "")
	require.NoError(t, err)
	assert.False(t, keep.ReapIfEmpty(ctx, "r2"))
	assert.True(t, keep.RoomExists("r2"))
}

func TestWorkerDeathRemovesRooms(t *testing.T) {
	r, engine := newRegistry(t, 2, true)
	ctx := context.Background()
	a, _, err := r.GetOrCreateRoom(ctx, "a", "")
	require.NoError(t, err)
	b, _, err := r.GetOrCreateRoom(ctx, "b", "")
	require.NoError(t, err)
	require.NotEqual(t, a.WorkerID(), b.WorkerID())

	require.True(t, engine.Kill(a.WorkerID(), errors.New("crash")))
	assert.Eventually(t, func() bool { return !r.RoomExists("a") }, time.Second, 5*time.Millisecond)
	assert.True(t, r.RoomExists("b"))

	// New rooms land on the surviving worker.
	c, _, err := r.GetOrCreateRoom(ctx, "c", "")
	require.NoError(t, err)
	assert.Equal(t, b.WorkerID(), c.WorkerID())
}

func TestRoomsSorted(t *testing.T) {
	r, _ := newRegistry(t, 1, true)
	ctx := context.Background()
	for _, id := range []domain.RoomID{"zeta", "alpha", "mid"} {
		_, _, err := r.GetOrCreateRoom(ctx, id, "")
		require.NoError(t, err)
	}
	rooms := r.Rooms()
	require.Len(t, rooms, 3)
	assert.Equal(t, domain.RoomID("alpha"), rooms[0].ID)
	assert.Equal(t, domain.RoomID("zeta"), rooms[2].ID)
}

func TestRoomRemovedHook(t *testing.T) {
	r, engine := newRegistry(t, 2, true)
	ctx := context.Background()
	var (
		mu      sync.Mutex
		removed []domain.RoomID
	)
	r.OnRoomRemoved(func(id domain.RoomID) {
		mu.Lock()
		removed = append(removed, id)
		mu.Unlock()
	})
	seen := func() []domain.RoomID {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.RoomID(nil), removed...)
	}

	_, _, err := r.GetOrCreateRoom(ctx, "explicit", "")
	require.NoError(t, err)
	assert.True(t, r.RemoveRoom(ctx, "explicit"))
	assert.False(t, r.RemoveRoom(ctx, "explicit"))
	assert.Equal(t, []domain.RoomID{"explicit"}, seen())

	_, _, err = r.GetOrCreateRoom(ctx, "empty", "")
	require.NoError(t, err)
	require.True(t, r.ReapIfEmpty(ctx, "empty"))
	assert.Equal(t, []domain.RoomID{"explicit", "empty"}, seen())

	doomed, _, err := r.GetOrCreateRoom(ctx, "doomed", "")
	require.NoError(t, err)
	require.True(t, engine.Kill(doomed.WorkerID(), errors.New("crash")))
	assert.Eventually(t, func() bool { return len(seen()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.RoomID("doomed"), seen()[2])
}
