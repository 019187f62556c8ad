package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnGuard throttles WebSocket upgrade attempts, independently of the
// per-identifier sliding window Limiter applies to publish/subscribe
// traffic once a connection is established. It checks a global token
// bucket first, then a per-IP bucket, so a single noisy client cannot
// exhaust capacity meant for everyone else.
type ConnGuard struct {
	global *rate.Limiter

	mu       sync.Mutex
	perIP    map[string]*ipBucket
	ipRate   rate.Limit
	ipBurst  int
	ipTTL    time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

type ipBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewConnGuard builds a guard with the given global and per-IP token
// bucket parameters. Call Stop to release its background cleanup.
func NewConnGuard(globalRate float64, globalBurst int, ipRate float64, ipBurst int, ipTTL time.Duration) *ConnGuard {
	g := &ConnGuard{
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		perIP:   make(map[string]*ipBucket),
		ipRate:  rate.Limit(ipRate),
		ipBurst: ipBurst,
		ipTTL:   ipTTL,
		stop:    make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

// Allow reports whether a new connection attempt from remoteAddr may
// proceed. remoteAddr may carry a port, as http.Request.RemoteAddr does;
// it is stripped before the per-IP bucket is consulted.
func (g *ConnGuard) Allow(remoteAddr string) bool {
	if !g.global.Allow() {
		return false
	}
	return g.ipLimiter(hostOnly(remoteAddr)).Allow()
}

func (g *ConnGuard) ipLimiter(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.perIP[ip]; ok {
		b.lastAccess = time.Now()
		return b.limiter
	}
	b := &ipBucket{limiter: rate.NewLimiter(g.ipRate, g.ipBurst), lastAccess: time.Now()}
	g.perIP[ip] = b
	return b.limiter
}

func (g *ConnGuard) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.cleanup()
		case <-g.stop:
			return
		}
	}
}

func (g *ConnGuard) cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for ip, b := range g.perIP {
		if now.Sub(b.lastAccess) > g.ipTTL {
			delete(g.perIP, ip)
		}
	}
}

// Stop releases the background cleanup goroutine.
func (g *ConnGuard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func hostOnly(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
