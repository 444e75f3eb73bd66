package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/logging"
)

// maxBlock caps the exponential backoff for blocked IPs.
const maxBlock = 24 * time.Hour

// rateLimiter implements a sliding window rate limiter with exponential backoff.
type rateLimiter struct {
	mu     sync.Mutex
	config config.RateLimitConfig
	log    *logging.Logger
	now    func() time.Time

	// attempts tracks timestamps of attempts per IP
	attempts map[string][]time.Time

	// failures counts refused requests per IP
	failures map[string]int

	// blocked maps an IP to the time its block expires
	blocked map[string]time.Time
}

// newRateLimiter creates a rate limiter, filling zero fields from the defaults.
func newRateLimiter(cfg config.RateLimitConfig, log *logging.Logger) *rateLimiter {
	def := config.DefaultRateLimitConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BlockAfter <= 0 {
		cfg.BlockAfter = def.BlockAfter
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = def.BlockTime
	}
	if log == nil {
		log = logging.Default()
	}

	return &rateLimiter{
		config:   cfg,
		log:      log,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// checkResult is the outcome of a rate limit check.
type checkResult struct {
	Allowed    bool
	RetryAfter time.Duration
	IsBlocked  bool   // blocked after repeated failures
	Reason     string // human-readable reason for rejection
}

// check records an attempt from ip if it is allowed.
func (rl *rateLimiter) check(ip string) checkResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	if expiry, ok := rl.blocked[ip]; ok {
		if now.Before(expiry) {
			return checkResult{
				RetryAfter: expiry.Sub(now),
				IsBlocked:  true,
				Reason:     "too many failed attempts",
			}
		}
		delete(rl.blocked, ip)
	}

	valid := rl.prune(ip, now)
	if len(valid) >= rl.config.MaxAttempts {
		retryAfter := valid[0].Add(rl.config.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return checkResult{
			RetryAfter: retryAfter,
			Reason:     "rate limit exceeded",
		}
	}

	rl.attempts[ip] = append(valid, now)
	return checkResult{Allowed: true}
}

// prune drops attempts outside the window and returns the rest.
func (rl *rateLimiter) prune(ip string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.config.Window)
	timestamps := rl.attempts[ip]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	if len(valid) == 0 {
		delete(rl.attempts, ip)
		return nil
	}
	rl.attempts[ip] = valid
	return valid
}

// recordSuccess clears the failure count for ip.
func (rl *rateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.failures, ip)
	delete(rl.blocked, ip)
}

// recordFailure counts a refused request. Once the count reaches BlockAfter
// the IP is blocked for BlockTime, doubling for every further BlockAfter
// failures.
func (rl *rateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.failures[ip]++
	n := rl.failures[ip]
	if n < rl.config.BlockAfter {
		return
	}

	blocks := (n - rl.config.BlockAfter) / rl.config.BlockAfter
	d := maxBlock
	if blocks < 20 {
		d = min(rl.config.BlockTime*time.Duration(1<<blocks), maxBlock)
	}
	rl.blocked[ip] = rl.now().Add(d)
	rl.log.Warn("client blocked", "ip", ip, "duration", d, "failures", n)
}

// cleanup removes expired entries. Called periodically by the server.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip := range rl.attempts {
		rl.prune(ip, now)
	}
	for ip, expiry := range rl.blocked {
		if now.After(expiry) {
			delete(rl.blocked, ip)
		}
	}
	// Failure counts survive while the IP is blocked or still active.
	for ip := range rl.failures {
		_, isBlocked := rl.blocked[ip]
		_, hasAttempts := rl.attempts[ip]
		if !isBlocked && !hasAttempts {
			delete(rl.failures, ip)
		}
	}
}

// extractIP returns the client IP, preferring X-Forwarded-For and X-Real-IP
// over the remote address.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
