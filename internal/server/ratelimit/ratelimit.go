// Package ratelimit limits how often a client may trigger expensive endpoints.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled   bool
	Limit     int           // requests per window
	Window    time.Duration // refill period for Limit tokens
	Burst     int           // defaults to Limit
	Whitelist map[string]bool
}

// Info contains information about rate limit status.
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type client struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per client.
type Limiter struct {
	config    Config
	now       func() time.Time
	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.Burst <= 0 {
		config.Burst = config.Limit
	}
	return &Limiter{
		config:  config,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Allow consumes a token for clientID when one is available.
func (l *Limiter) Allow(clientID string) Info {
	if !l.config.Enabled || l.config.Limit <= 0 || l.config.Window <= 0 || l.config.Whitelist[clientID] {
		return Info{Allowed: true}
	}

	now := l.now()
	l.mu.Lock()
	l.sweep(now)
	c, ok := l.clients[clientID]
	if !ok {
		every := l.config.Window / time.Duration(l.config.Limit)
		c = &client{limiter: rate.NewLimiter(rate.Every(every), l.config.Burst)}
		l.clients[clientID] = c
	}
	c.lastAccess = now
	l.mu.Unlock()

	info := Info{Limit: l.config.Limit}
	r := c.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		info.RetryAfter = delay
	} else {
		info.Allowed = true
	}
	if remaining := int(c.limiter.TokensAt(now)); remaining > 0 {
		info.Remaining = remaining
	}
	return info
}

// sweep drops clients idle for more than a window. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.config.Window {
		return
	}
	l.lastSweep = now
	for id, c := range l.clients {
		if now.Sub(c.lastAccess) > l.config.Window {
			delete(l.clients, id)
		}
	}
}
