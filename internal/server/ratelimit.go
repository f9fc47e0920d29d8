package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limitPolicy expresses one surface's budget: n requests per window,
// with a burst allowance on top.
type limitPolicy struct {
	n      int
	window time.Duration
	burst  int
}

func (p limitPolicy) limit() rate.Limit {
	return rate.Limit(float64(p.n) / p.window.Seconds())
}

// Budgets per authenticated identity. Retrieval is the expensive path
// (two ECDH legs plus an HKDF per request); approvals are human-paced
// and get a tighter budget so a stolen phone key cannot grind through
// challenges.
var (
	retrievePolicy = limitPolicy{n: 60, window: time.Minute, burst: 10}
	approvePolicy  = limitPolicy{n: 30, window: time.Minute, burst: 5}
	addrPolicy     = limitPolicy{n: 240, window: time.Minute, burst: 40}
)

// identityLimiter keeps one token bucket per key — an agent id, a phone
// id, or a caller address — and forgets buckets that have gone quiet.
// Idle buckets are swept at most once per idleAfter so the hot path
// stays a map lookup.
type identityLimiter struct {
	mu        sync.Mutex
	policy    limitPolicy
	idleAfter time.Duration
	buckets   map[string]*identityBucket
	nextSweep time.Time
}

type identityBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newIdentityLimiter(p limitPolicy, idleAfter time.Duration) *identityLimiter {
	return &identityLimiter{
		policy:    p,
		idleAfter: idleAfter,
		buckets:   make(map[string]*identityBucket),
	}
}

func (l *identityLimiter) allow(now time.Time, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idleAfter {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(l.idleAfter)
	}

	b := l.buckets[key]
	if b == nil {
		b = &identityBucket{lim: rate.NewLimiter(l.policy.limit(), l.policy.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.Allow()
}

// callerAddr keys the outer per-address limiter: the first hop of
// X-Forwarded-For when a proxy fronts the server, the peer address
// otherwise.
func callerAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
