package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/appmesh/pkg/httputil"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Limiter decides whether another attempt under key fits the current window.
// A non-nil error means the decision could not be made.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
	// TrustedProxies may set forwarding headers naming the client
	TrustedProxies TrustedProxies
}

// DefaultLoginRateLimitConfig allows ten login attempts a minute per key
func DefaultLoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	}
}

// DefaultRateLimitConfig returns the per client limit for the whole API
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         60,
	}
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// RateLimiter is an in-process token bucket limiter. Buckets start full and
// refill at RequestsPerWindow per WindowDuration.
type RateLimiter struct {
	config  *RateLimitConfig
	now     func() time.Time
	buckets map[string]*bucket
	mu      sync.Mutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token from the bucket of key. It never fails.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.config.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}
	rl.refill(b, now)

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

func (rl *RateLimiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastUpdate)
	add := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if add <= 0 {
		return
	}
	b.tokens += add
	if b.tokens > rl.config.capacity() {
		b.tokens = rl.config.capacity()
	}
	b.lastUpdate = now
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return rl.config.capacity()
	}
	rl.refill(b, rl.now())
	return b.tokens
}

// Cleanup drops buckets idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup every window until ctx is cancelled
func (rl *RateLimiter) StartCleanup(ctx context.Context, logger logrus.FieldLogger) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(logger, "rate limiter cleanup")
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware limits every client address to limiter's window.
// Limiter errors let the request through.
func RateLimitMiddleware(limiter Limiter, config *RateLimitConfig, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	logger = observability.OrDiscard(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + config.TrustedProxies.ClientIP(r.Header, r.RemoteAddr)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := strconv.Itoa(int(config.WindowDuration.Seconds()))
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
				w.Header().Set("X-RateLimit-Remaining", "0")
				_ = httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":       "rate limit exceeded",
					"retry_after": int(config.WindowDuration.Seconds()),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TrustedProxies lists the peers whose forwarding headers are believed.
// The zero value trusts nobody.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies parses CIDR blocks or bare addresses.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var proxies TrustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		proxies = append(proxies, network)
	}
	return proxies, nil
}

func (p TrustedProxies) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address. X-Forwarded-For and
// X-Real-IP are only read when the connecting peer is a trusted proxy; the
// forwarded chain is walked from the right past trusted hops.
func (p TrustedProxies) ClientIP(headers http.Header, remoteAddr string) string {
	peer := RemoteIP(remoteAddr)
	if !p.trusts(peer) {
		return peer
	}

	if forwarded := headers.Values("X-Forwarded-For"); len(forwarded) > 0 {
		hops := strings.Split(strings.Join(forwarded, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !p.trusts(hop) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(headers.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

// RemoteIP strips the port from a connection address.
func RemoteIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
