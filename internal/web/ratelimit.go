package web

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the sustained generation requests per second per session.
	DefaultRateLimit = 2.0

	// DefaultRateBurst is how many requests a session may make at once.
	DefaultRateBurst = 5

	// cleanupInterval is how often to check for stale sessions
	cleanupInterval = 5 * time.Minute

	// maxSessionAge is the maximum idle time before a session is cleaned up
	maxSessionAge = 30 * time.Minute
)

// sessionLimiter is the limiter of one session.
type sessionLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter tracks a token bucket per session.
type rateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	sessions map[string]*sessionLimiter
	wg       sync.WaitGroup
}

// newRateLimiter creates a limiter allowing perSecond requests per session
// with the given burst. perSecond <= 0 disables limiting.
func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:    limit,
		burst:    burst,
		sessions: make(map[string]*sessionLimiter),
	}
}

// allow reports whether the session may make a request now and consumes a
// token if so.
func (rl *rateLimiter) allow(sessionID string) bool {
	rl.mu.Lock()
	entry, ok := rl.sessions[sessionID]
	if !ok {
		entry = &sessionLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.sessions[sessionID] = entry
	}
	entry.lastAccess = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// count returns the number of tracked sessions.
func (rl *rateLimiter) count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.sessions)
}

// cleanup removes rate limit state for a session.
func (rl *rateLimiter) cleanup(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.sessions, sessionID)
}

// cleanupStale removes sessions idle for longer than maxAge so the map
// cannot grow without bound.
func (rl *rateLimiter) cleanupStale(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for sessionID, entry := range rl.sessions {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(rl.sessions, sessionID)
		}
	}
}

// startCleanup runs cleanupStale periodically until ctx is cancelled.
func (rl *rateLimiter) startCleanup(ctx context.Context) {
	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanupStale(maxSessionAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// wait blocks until the cleanup goroutine has exited.
func (rl *rateLimiter) wait() {
	rl.wg.Wait()
}
