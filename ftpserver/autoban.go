package ftpserver

import (
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// autobanner tracks failed logins per source address and bans an address
// on its maxFailures-th failure within window, per spec.md §4.7. Each
// tracked address gets its own token bucket holding maxFailures-1 tokens
// and refilling at maxFailures/window; a failure that finds the bucket
// empty bans its address for banDuration.
type autobanner struct {
	maxFailures int
	window      time.Duration
	banDuration time.Duration

	mu      sync.Mutex
	buckets map[netip.Addr]*rate.Limiter
	bans    map[netip.Addr]time.Time
}

func newAutobanner(maxFailures int, window, banDuration time.Duration) *autobanner {
	return &autobanner{
		maxFailures: maxFailures,
		window:      window,
		banDuration: banDuration,
		buckets:     make(map[netip.Addr]*rate.Limiter),
		bans:        make(map[netip.Addr]time.Time),
	}
}

// Banned reports whether addr is currently serving a ban.
func (a *autobanner) Banned(addr netip.Addr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.bans[addr]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(a.bans, addr)
		return false
	}
	return true
}

// RecordFailure counts one failed login from addr, banning it when the
// failure finds its bucket already empty.
func (a *autobanner) RecordFailure(addr netip.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lim, ok := a.buckets[addr]
	if !ok {
		every := a.window / time.Duration(a.maxFailures)
		lim = rate.NewLimiter(rate.Every(every), a.maxFailures-1)
		a.buckets[addr] = lim
	}
	if !lim.Allow() {
		a.bans[addr] = time.Now().Add(a.banDuration)
	}
}

// RecordSuccess forgets addr's failure history, so a successful login
// resets the count exactly as a bucket refill would over time but
// without waiting for it.
func (a *autobanner) RecordSuccess(addr netip.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buckets, addr)
}
