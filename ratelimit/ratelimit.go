// Package ratelimit implements sliding-window rate limiting keyed by
// (scope, client IP). Each window is a FIFO of admission timestamps;
// admission drops expired entries from the front, then compares the
// remaining count against the policy's limit plus burst allowance.
package ratelimit

import (
	"net"
	"strings"
	"time"

	"github.com/eapache/queue"
)

// Scope name builders. A route-level scope is keyed by the route itself so
// two routes never share a window.
const (
	ScopeGlobalHTTP = "global-http"
	ScopeGlobalWS   = "global-ws"
)

// RouteScope returns the scope name for an HTTP route's own policy.
func RouteScope(method, path string) string {
	return "route:" + method + " " + path
}

// EventScope returns the scope name for a WebSocket event's own policy.
func EventScope(event string) string {
	return "event:" + event
}

// Policy is the admission rule for one scope.
type Policy struct {
	MaxRequests    int
	Window         time.Duration
	BurstAllowance int
	BypassGlobal   bool
	Whitelist      []string
}

// Enabled reports whether the policy actually constrains anything.
func (p Policy) Enabled() bool {
	return p.MaxRequests > 0 && p.Window > 0
}

func (p Policy) whitelisted(ip string) bool {
	for _, w := range p.Whitelist {
		if w == ip {
			return true
		}
	}
	return false
}

// Config carries the global policies plus the bucket sweep cadence.
type Config struct {
	Enabled         bool
	HTTP            Policy
	WS              Policy
	CleanupInterval time.Duration
}

// DefaultConfig allows 100 HTTP requests (plus a burst allowance of 20)
// and 200 WS messages (plus 50) per minute per IP, sweeping empty buckets
// every five minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		HTTP:            Policy{MaxRequests: 100, Window: time.Minute, BurstAllowance: 20},
		WS:              Policy{MaxRequests: 200, Window: time.Minute, BurstAllowance: 50},
		CleanupInterval: 5 * time.Minute,
	}
}

// Decision is the outcome of one admission check, carrying everything the
// caller needs to build a refusal response.
type Decision struct {
	Allowed    bool
	Scope      string
	Limit      int
	Window     time.Duration
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
}

// bucket is one (scope, ip) window: a FIFO of admission timestamps plus
// the window length they expire under.
type bucket struct {
	q      *queue.Queue
	window time.Duration
}

func (b *bucket) expire(cutoff time.Time) {
	for b.q.Length() > 0 && b.q.Peek().(time.Time).Before(cutoff) {
		b.q.Remove()
	}
}

// Limiter owns every (scope, ip) window. It is only touched from the event
// loop goroutine, so buckets are a plain map.
type Limiter struct {
	buckets map[string]*bucket
	now     func() time.Time
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: time.Now}
}

func bucketKey(scope, ip string) string { return scope + "|" + ip }

// Allow runs one admission check against policy p for the given scope and
// IP, appending the current timestamp on success.
func (l *Limiter) Allow(scope, ip string, p Policy) Decision {
	d := Decision{Allowed: true, Scope: scope, Limit: p.MaxRequests, Window: p.Window}
	if !p.Enabled() || p.whitelisted(ip) {
		d.Remaining = p.MaxRequests
		return d
	}

	now := l.now()
	key := bucketKey(scope, ip)
	b := l.buckets[key]
	if b == nil {
		b = &bucket{q: queue.New()}
		l.buckets[key] = b
	}
	b.window = p.Window
	b.expire(now.Add(-p.Window))

	q := b.q
	capacity := p.MaxRequests + p.BurstAllowance
	if q.Length() >= capacity {
		oldest := q.Peek().(time.Time)
		d.Allowed = false
		d.Remaining = 0
		d.RetryAfter = oldest.Add(p.Window).Sub(now)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
		d.Reset = oldest.Add(p.Window)
		return d
	}

	q.Add(now)
	d.Remaining = capacity - q.Length()
	d.Reset = now.Add(p.Window)
	return d
}

// Check evaluates the effective policy set for one request: the route's
// own policy first when present, then the global policy unless the route
// bypasses it. The first denial wins.
func (l *Limiter) Check(globalScope string, global Policy, routeScope string, route *Policy, ip string) Decision {
	if route != nil && route.Enabled() {
		if d := l.Allow(routeScope, ip, *route); !d.Allowed {
			return d
		}
		if route.BypassGlobal {
			return Decision{Allowed: true, Scope: routeScope}
		}
	}
	return l.Allow(globalScope, ip, global)
}

// Sweep expires every bucket's stale entries and drops the buckets that
// end up empty, bounding memory for IPs that have gone quiet.
func (l *Limiter) Sweep(now time.Time) {
	for key, b := range l.buckets {
		b.expire(now.Add(-b.window))
		if b.q.Length() == 0 {
			delete(l.buckets, key)
		}
	}
}

// Buckets reports how many windows are currently tracked.
func (l *Limiter) Buckets() int { return len(l.buckets) }

// ClientIP resolves the identity a request is limited under. With
// trustProxy set and the peer inside the trusted list, the first
// X-Forwarded-For hop (or X-Real-IP) is used instead of the socket peer.
func ClientIP(remote string, header func(string) string, trustProxy bool, trusted []string) string {
	ip := remote
	if host, _, err := net.SplitHostPort(remote); err == nil {
		ip = host
	}
	if !trustProxy || header == nil || !peerTrusted(ip, trusted) {
		return ip
	}
	if fwd := header("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if real := header("X-Real-Ip"); real != "" && net.ParseIP(real) != nil {
		return real
	}
	return ip
}

func peerTrusted(ip string, trusted []string) bool {
	parsed := net.ParseIP(ip)
	for _, t := range trusted {
		if t == ip {
			return true
		}
		if _, cidr, err := net.ParseCIDR(t); err == nil && parsed != nil && cidr.Contains(parsed) {
			return true
		}
	}
	return false
}
