package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10000
	clientIdleAfter   = 10 * time.Minute
)

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter throttles checkout initiations per client address. Idle
// entries are dropped when the table is full.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	disabled bool
}

// NewRateLimiter allows requestsPerSecond with the given burst per client.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		disabled: requestsPerSecond <= 0,
	}
}

func (rl *RateLimiter) Allow(client string) bool {
	if rl.disabled {
		return true
	}
	return rl.get(client).Allow()
}

func (rl *RateLimiter) get(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if cl, ok := rl.clients[client]; ok {
		cl.lastAccess = now
		return cl.limiter
	}
	if len(rl.clients) >= maxTrackedClients {
		rl.evict(now)
	}
	cl := &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst), lastAccess: now}
	rl.clients[client] = cl
	return cl.limiter
}

// evict drops idle clients, or the least recently seen one if none are idle.
func (rl *RateLimiter) evict(now time.Time) {
	var oldest string
	var oldestAt time.Time
	for k, cl := range rl.clients {
		if now.Sub(cl.lastAccess) > clientIdleAfter {
			delete(rl.clients, k)
			continue
		}
		if oldest == "" || cl.lastAccess.Before(oldestAt) {
			oldest, oldestAt = k, cl.lastAccess
		}
	}
	if len(rl.clients) >= maxTrackedClients && oldest != "" {
		delete(rl.clients, oldest)
	}
}
