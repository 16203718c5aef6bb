package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

// chatLimiter is a token bucket per chat: perMinute commands, refilled
// evenly. A rate of zero or less disables limiting.
type chatLimiter struct {
	mu        sync.Mutex
	perMinute int
	chats     map[int64]*chatBucket
	now       func() time.Time
	lastSweep time.Time
}

type chatBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newChatLimiter(perMinute int) *chatLimiter {
	return &chatLimiter{perMinute: perMinute, chats: map[int64]*chatBucket{}, now: time.Now}
}

func (l *chatLimiter) setRate(perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMinute == l.perMinute {
		return
	}
	l.perMinute = perMinute
	for _, b := range l.chats {
		b.lim.SetLimitAt(l.now(), l.limit())
		b.lim.SetBurstAt(l.now(), perMinute)
	}
}

func (l *chatLimiter) limit() rate.Limit {
	return rate.Limit(float64(l.perMinute) / 60)
}

func (l *chatLimiter) allow(chatID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.perMinute <= 0 {
		return true
	}
	now := l.now()
	l.sweep(now)
	b := l.chats[chatID]
	if b == nil {
		b = &chatBucket{lim: rate.NewLimiter(l.limit(), l.perMinute)}
		l.chats[chatID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// sweep forgets chats idle long enough for their bucket to be full again.
func (l *chatLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdle {
		return
	}
	l.lastSweep = now
	for id, b := range l.chats {
		if now.Sub(b.seen) >= limiterIdle {
			delete(l.chats, id)
		}
	}
}
