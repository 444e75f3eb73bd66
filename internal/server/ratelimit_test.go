package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/logging"
)

// fakeClock is a manually advanced clock for the limiter.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg config.RateLimitConfig) (*rateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	rl := newRateLimiter(cfg, logging.NewWithWriter(io.Discard, logging.LevelDebug))
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_BasicRateLimit(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(config.RateLimitConfig{MaxAttempts: 3, Window: time.Second, BlockAfter: 10, BlockTime: time.Second})
	ip := "192.168.1.1"

	for i := 0; i < 3; i++ {
		assert.True(t, rl.check(ip).Allowed, "attempt %d should be allowed", i+1)
	}

	result := rl.check(ip)
	assert.False(t, result.Allowed)
	assert.False(t, result.IsBlocked)
	assert.Equal(t, "rate limit exceeded", result.Reason)
	assert.Equal(t, time.Second, result.RetryAfter)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(config.RateLimitConfig{MaxAttempts: 2, Window: time.Minute, BlockAfter: 10, BlockTime: time.Second})
	ip := "192.168.1.2"

	require.True(t, rl.check(ip).Allowed)
	clock.advance(40 * time.Second)
	require.True(t, rl.check(ip).Allowed)

	result := rl.check(ip)
	require.False(t, result.Allowed)
	assert.Equal(t, 20*time.Second, result.RetryAfter)

	// The first attempt leaves the window, the second does not.
	clock.advance(21 * time.Second)
	assert.True(t, rl.check(ip).Allowed)
	assert.False(t, rl.check(ip).Allowed)
}

func TestRateLimiter_FailureBlocking(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(config.RateLimitConfig{MaxAttempts: 20, Window: time.Minute, BlockAfter: 3, BlockTime: time.Minute})
	ip := "192.168.1.3"

	rl.recordFailure(ip)
	rl.recordFailure(ip)
	require.True(t, rl.check(ip).Allowed)
	rl.recordFailure(ip)

	result := rl.check(ip)
	assert.False(t, result.Allowed)
	assert.True(t, result.IsBlocked)
	assert.Equal(t, "too many failed attempts", result.Reason)
	assert.Equal(t, time.Minute, result.RetryAfter)

	clock.advance(time.Minute + time.Second)
	assert.True(t, rl.check(ip).Allowed)
}

func TestRateLimiter_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(config.RateLimitConfig{MaxAttempts: 20, Window: time.Minute, BlockAfter: 5, BlockTime: time.Second})
	ip := "192.168.1.4"

	for i := 0; i < 4; i++ {
		rl.recordFailure(ip)
	}
	rl.recordSuccess(ip)
	for i := 0; i < 4; i++ {
		rl.recordFailure(ip)
	}

	assert.True(t, rl.check(ip).Allowed, "failures were reset")
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(config.RateLimitConfig{MaxAttempts: 2, Window: time.Minute, BlockAfter: 10, BlockTime: time.Second})

	for i := 0; i < 2; i++ {
		assert.True(t, rl.check("192.168.1.10").Allowed)
	}
	assert.False(t, rl.check("192.168.1.10").Allowed)
	assert.True(t, rl.check("192.168.1.11").Allowed)
}

func TestRateLimiter_ExponentialBackoff(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(config.RateLimitConfig{MaxAttempts: 100, Window: time.Minute, BlockAfter: 2, BlockTime: 10 * time.Second})
	ip := "192.168.1.30"

	rl.recordFailure(ip)
	rl.recordFailure(ip)
	result := rl.check(ip)
	require.True(t, result.IsBlocked)
	assert.Equal(t, 10*time.Second, result.RetryAfter)

	clock.advance(11 * time.Second)
	require.True(t, rl.check(ip).Allowed)

	rl.recordFailure(ip)
	rl.recordFailure(ip)
	result = rl.check(ip)
	require.True(t, result.IsBlocked)
	assert.Equal(t, 20*time.Second, result.RetryAfter)

	// Backoff is capped.
	for i := 0; i < 200; i++ {
		rl.recordFailure(ip)
	}
	assert.Equal(t, maxBlock, rl.check(ip).RetryAfter)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(config.RateLimitConfig{MaxAttempts: 2, Window: time.Minute, BlockAfter: 2, BlockTime: time.Minute})
	ip := "192.168.1.20"

	rl.check(ip)
	rl.recordFailure(ip)
	rl.recordFailure(ip)

	clock.advance(2 * time.Minute)
	rl.cleanup()

	rl.mu.Lock()
	assert.Empty(t, rl.attempts)
	assert.Empty(t, rl.blocked)
	assert.Empty(t, rl.failures)
	rl.mu.Unlock()

	assert.True(t, rl.check(ip).Allowed)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(config.RateLimitConfig{}, nil)
	assert.Equal(t, config.DefaultRateLimitConfig(), rl.config)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remoteIP string
		expected string
	}{
		{
			name:     "X-Forwarded-For single IP",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.50"},
			remoteIP: "10.0.0.1:12345",
			expected: "203.0.113.50",
		},
		{
			name:     "X-Forwarded-For multiple IPs",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18, 150.172.238.178"},
			remoteIP: "10.0.0.1:12345",
			expected: "203.0.113.50",
		},
		{
			name:     "X-Real-IP",
			headers:  map[string]string{"X-Real-IP": "203.0.113.51"},
			remoteIP: "10.0.0.1:12345",
			expected: "203.0.113.51",
		},
		{
			name:     "X-Forwarded-For takes precedence over X-Real-IP",
			headers:  map[string]string{"X-Forwarded-For": "203.0.113.50", "X-Real-IP": "203.0.113.51"},
			remoteIP: "10.0.0.1:12345",
			expected: "203.0.113.50",
		},
		{
			name:     "Falls back to remote address",
			headers:  map[string]string{},
			remoteIP: "10.0.0.1:12345",
			expected: "10.0.0.1",
		},
		{
			name:     "Remote address without port",
			headers:  map[string]string{},
			remoteIP: "10.0.0.1",
			expected: "10.0.0.1",
		},
		{
			name:     "X-Forwarded-For with whitespace",
			headers:  map[string]string{"X-Forwarded-For": "  203.0.113.50  "},
			remoteIP: "10.0.0.1:12345",
			expected: "203.0.113.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/run", nil)
			req.RemoteAddr = tt.remoteIP
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}
			assert.Equal(t, tt.expected, extractIP(req))
		})
	}
}
