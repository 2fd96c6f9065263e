package signal

import (
	"sync"
	"time"

	"github.com/parbhatia/gospace-sub000/internal/domain"
)

// JoinRateLimiter allows at most limit joins per user within a sliding
// interval. A zero limit disables it.
type JoinRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewJoinRateLimiter(limit int, interval time.Duration) *JoinRateLimiter {
	return &JoinRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *JoinRateLimiter) Allow(uid domain.UserID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)

	// Drop users whose window has fully expired.
	if len(rl.history) > 1024 {
		for id, ts := range rl.history {
			if len(ts) == 0 || !ts[len(ts)-1].After(windowStart) {
				delete(rl.history, id)
			}
		}
	}
	return true
}
