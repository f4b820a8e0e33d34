package api

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rafaeljc/gatekeeper/internal/cache"
)

const (
	// maxTrackedIPs bounds the memory spent on failed-auth bookkeeping.
	maxTrackedIPs = 10000

	// staleAfter forgets an IP that stopped failing.
	staleAfter = 5 * time.Minute
)

// authLimiter throttles clients that keep presenting bad API keys. Only
// failures consume tokens; an IP with no recorded failure is never blocked.
type authLimiter struct {
	mu        sync.Mutex
	perMinute int
	limiters  *cache.MemoryCache[*rate.Limiter]
}

func newAuthLimiter(perMinute int) (*authLimiter, error) {
	limiters, err := cache.NewMemoryCache[*rate.Limiter](maxTrackedIPs, staleAfter)
	if err != nil {
		return nil, err
	}
	return &authLimiter{perMinute: perMinute, limiters: limiters}, nil
}

// blocked reports whether ip has exhausted its failure budget.
func (l *authLimiter) blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(ip)
	return ok && lim.Tokens() < 1
}

// recordFailure consumes one token for ip.
func (l *authLimiter) recordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters.Get(ip)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
	}
	lim.Allow()
	// Re-setting refreshes the TTL, so only IPs that stop failing expire.
	l.limiters.Set(ip, lim)
}

func (l *authLimiter) close() { l.limiters.Close() }

// clientIP strips the port from a RemoteAddr.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
