package main

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter tracks one client's rate limiter and last activity for
// idle eviction
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	limiterMu sync.Mutex
	limiters  = make(map[string]*clientLimiter)
)

const limiterIdleEviction = 10 * time.Minute

// rateLimitAllow reports whether a request from remoteAddr may proceed.
// Limits are per client IP, not per connection.
func rateLimitAllow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	limiterMu.Lock()
	defer limiterMu.Unlock()

	cl, ok := limiters[host]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(settings.RateLimitRPS), settings.RateLimitBurst),
		}
		limiters[host] = cl
	}
	cl.lastSeen = time.Now()

	return cl.limiter.Allow()
}

// startLimiterEviction periodically drops limiters for idle clients
func startLimiterEviction() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiterMu.Lock()
			for host, cl := range limiters {
				if time.Since(cl.lastSeen) > limiterIdleEviction {
					delete(limiters, host)
				}
			}
			limiterMu.Unlock()
		}
	}()
}
