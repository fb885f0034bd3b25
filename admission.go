package starling

import (
	"net"
	"sync"
	"time"

	"github.com/svalinn-smtp/starling/utils"
)

// ConnectionRateLimiter caps how many connections a single remote IP may
// open within a sliding window, checked by the accept loop before a
// connection is handed a goroutine and a Session.
type ConnectionRateLimiter struct {
	mu       sync.Mutex
	counts   map[string]*rateWindow
	limit    int
	window   time.Duration
	cleanupT time.Duration
	stop     chan struct{}
}

type rateWindow struct {
	count       int
	windowStart time.Time
}

// NewConnectionRateLimiter allows up to limit connections per window from
// any one IP.
func NewConnectionRateLimiter(limit int, window time.Duration) *ConnectionRateLimiter {
	rl := &ConnectionRateLimiter{
		counts:   make(map[string]*rateWindow),
		limit:    limit,
		window:   window,
		cleanupT: window * 2,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *ConnectionRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupT)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, w := range rl.counts {
				if now.Sub(w.windowStart) > rl.window {
					delete(rl.counts, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the background cleanup goroutine.
func (rl *ConnectionRateLimiter) Stop() { close(rl.stop) }

// Allow reports whether ip may open another connection, incrementing its
// window counter if so.
func (rl *ConnectionRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.counts[ip]
	if !ok || now.Sub(w.windowStart) > rl.window {
		rl.counts[ip] = &rateWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// IPFilterMode selects whether an IPFilter operates as an allow-list or a
// deny-list.
type IPFilterMode int

const (
	IPFilterModeAllow IPFilterMode = iota
	IPFilterModeDeny
)

// IPFilter allows or denies incoming connections by remote IP, checked by
// the accept loop ahead of the rate limiter and MaxConnections.
type IPFilter struct {
	mu        sync.RWMutex
	allowList map[string]bool
	denyList  map[string]bool
	mode      IPFilterMode
}

func NewIPFilter(mode IPFilterMode) *IPFilter {
	return &IPFilter{
		allowList: make(map[string]bool),
		denyList:  make(map[string]bool),
		mode:      mode,
	}
}

func (f *IPFilter) Allow(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowList[ip] = true
}

func (f *IPFilter) Deny(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denyList[ip] = true
}

// IsAllowed reports whether ip may connect under the filter's mode.
func (f *IPFilter) IsAllowed(ip string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	switch f.mode {
	case IPFilterModeAllow:
		return f.allowList[ip]
	case IPFilterModeDeny:
		return !f.denyList[ip]
	}
	return true
}

// extractIP recovers the bare IP a rate limiter or IP filter keys on,
// falling back to the raw address string if it carries no parseable IP.
func extractIP(addr net.Addr) string {
	ip, err := utils.GetIPFromAddr(addr)
	if err != nil {
		return addr.String()
	}
	return ip.String()
}
