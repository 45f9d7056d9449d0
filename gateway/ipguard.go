package gateway

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// ipGuard throttles connection attempts per source IP, the same pattern
// cppla-moto's Listen uses a process-wide patrickmn/go-cache counter for:
// count connections per IP and reject once the limit is hit, letting the
// cache's own expiration reset the counter instead of a manual sweep. The
// window is fixed: it starts at an IP's first counted attempt, and later
// increments do not extend it. Every accepted connection is counted,
// including one that goes on to rebind an existing Client Object, since
// the check runs before login.
type ipGuard struct {
	cache *cache.Cache
	limit int
}

// newIPGuard builds a guard allowing at most limit connections per IP
// within window. limit<=0 disables the guard entirely.
func newIPGuard(limit int, window time.Duration) *ipGuard {
	if limit <= 0 {
		return &ipGuard{limit: 0}
	}
	return &ipGuard{cache: cache.New(window, window*2), limit: limit}
}

// Allow records one more attempt from ip and reports whether it is still
// under the limit.
func (g *ipGuard) Allow(ip string) bool {
	if g.limit <= 0 {
		return true
	}
	if count, found := g.cache.Get(ip); found && count.(int) >= g.limit {
		return false
	} else if found {
		g.cache.IncrementInt(ip, 1)
	} else {
		g.cache.SetDefault(ip, 1)
	}
	return true
}
