package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollapseIPv6(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2001:db8:1:2:aaaa::1", want: "2001:db8:1:2::/64"},
		{in: "2001:db8:1:2:bbbb::2", want: "2001:db8:1:2::/64"},
		{in: "2001:DB8:1:2:ffff:ffff:ffff:ffff", want: "2001:db8:1:2::/64"},
		{in: "2001:db8::1", want: "2001:db8:0:0::/64"},
		{in: "::1", want: "0:0:0:0::/64"},
		{in: "fe80::1%eth0", want: "fe80:0:0:0::/64"},
		{in: "203.0.113.7", want: "203.0.113.7"},
		{in: "::ffff:203.0.113.7", want: "203.0.113.7"},
		{in: "unknown", want: "unknown"},
		{in: "not-an-ip", want: "not-an-ip"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CollapseIPv6(tt.in))
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{name: "ipv4 with port", remoteAddr: "203.0.113.7:5555", want: "203.0.113.7"},
		{name: "ipv6 with port", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "bare address", remoteAddr: "203.0.113.7", want: "203.0.113.7"},
		{name: "empty", remoteAddr: "", want: "unknown"},
		{name: "forwarded ignored by default", remoteAddr: "10.0.0.1:1", forwarded: "198.51.100.9", want: "10.0.0.1"},
		{name: "forwarded first hop when trusted", remoteAddr: "10.0.0.1:1", forwarded: "198.51.100.9, 10.0.0.2", trustProxy: true, want: "198.51.100.9"},
		{name: "blank forwarded falls back", remoteAddr: "10.0.0.1:1", forwarded: " ,10.0.0.2", trustProxy: true, want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trustProxy))
		})
	}
}

func TestRateLimitKey(t *testing.T) {
	t.Run("identity wins over address", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "[2001:db8:1:2:aaaa::1]:1234"
		r = withIdentity(r, "user_1", "")
		assert.Equal(t, "user_1", RateLimitKey(r, false))
	})

	t.Run("ipv6 siblings share a bucket", func(t *testing.T) {
		a := httptest.NewRequest(http.MethodGet, "/", nil)
		a.RemoteAddr = "[2001:db8:1:2:aaaa::1]:1234"
		b := httptest.NewRequest(http.MethodGet, "/", nil)
		b.RemoteAddr = "[2001:db8:1:2:bbbb::2]:4321"

		assert.Equal(t, "2001:db8:1:2::/64", RateLimitKey(a, false))
		assert.Equal(t, RateLimitKey(a, false), RateLimitKey(b, false))
	})

	t.Run("ipv4 passes through", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.7:80"
		assert.Equal(t, "203.0.113.7", RateLimitKey(r, false))
	})
}

func TestPolicy_Validate(t *testing.T) {
	for name, p := range DefaultPolicies() {
		assert.NoError(t, p.Validate(), name)
		assert.Equal(t, name, p.Name)
	}

	assert.Error(t, Policy{Max: 1, Window: time.Minute}.Validate())
	assert.Error(t, Policy{Name: "x", Window: time.Minute}.Validate())
	assert.Error(t, Policy{Name: "x", Max: 1, Window: time.Millisecond}.Validate())
}

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()
	assert.Equal(t, Policy{Name: PolicyInvitation, Max: 10, Window: time.Hour, Message: p[PolicyInvitation].Message}, p[PolicyInvitation])
	assert.Equal(t, int64(5), p[PolicyCompanyCreation].Max)
	assert.Equal(t, time.Hour, p[PolicyCompanyCreation].Window)
	assert.Equal(t, int64(5), p[PolicyPublicSubmission].Max)
	assert.Equal(t, 15*time.Minute, p[PolicyPublicSubmission].Window)
	assert.Equal(t, int64(30), p[PolicyBulkLookup].Max)
	assert.Equal(t, time.Minute, p[PolicyBulkLookup].Window)
}

func TestMemoryCounterStore(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	n, err := s.Increment(ctx, "k", 10, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, _ = s.Increment(ctx, "k", 10, time.Minute)
	assert.Equal(t, int64(2), n)

	n, _ = s.Increment(ctx, "k", 11, time.Minute)
	assert.Equal(t, int64(1), n, "a new window starts from zero")

	n, _ = s.Increment(ctx, "other", 11, time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestMemoryCounterStore_Concurrent(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Increment(ctx, "k", 1, time.Minute)
		}()
	}
	wg.Wait()

	n, err := s.Increment(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(51), n)
}

func TestMemoryCounterStore_Sweep(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()
	window := time.Minute

	now := time.Unix(6000, 0)
	current := now.UnixNano() / int64(window)

	_, _ = s.Increment(ctx, "old", current-1, window)
	_, _ = s.Increment(ctx, "live", current, window)

	assert.Equal(t, 1, s.Sweep(now))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryCounterStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryCounterStore().Increment(ctx, "k", 1, time.Minute)
	assert.Error(t, err)
}

func newTestLimiter(store CounterStore, max int64, window time.Duration, now time.Time) *FixedWindowLimiter {
	l := NewFixedWindowLimiter(store, Policy{Name: "test", Max: max, Window: window, Message: "slow down"}, RateLimitOptions{})
	l.now = func() time.Time { return now }
	return l
}

func limitedRequest() *http.Request {
	r := apiRequest(http.MethodPost, "/api/lookup")
	r.RemoteAddr = "203.0.113.7:1234"
	return r
}

func TestFixedWindowLimiter(t *testing.T) {
	// 10s into a 60s window
	now := time.Unix(600+10, 0)
	store := NewMemoryCounterStore()
	limiter := newTestLimiter(store, 3, time.Minute, now)

	var served int
	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
	}))

	for i := 1; i <= 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(3-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "660", rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest())

	assert.Equal(t, 3, served)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "50", rec.Header().Get("Retry-After"))

	body := decodeBody(t, rec)
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, "slow down", body["message"])
	assert.Equal(t, float64(50), body["retryAfter"])

	// first request of the next window succeeds
	limiter.now = func() time.Time { return time.Unix(660, 0) }
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, served)
}

func TestFixedWindowLimiter_RetryAfterIsAtLeastOne(t *testing.T) {
	now := time.Unix(659, 999000000)
	limiter := newTestLimiter(NewMemoryCounterStore(), 1, time.Minute, now)
	handler := limiter.Handler(http.NotFoundHandler())

	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestFixedWindowLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Unix(600, 0)
	store := NewMemoryCounterStore()
	invites := newTestLimiter(store, 1, time.Minute, now)
	lookups := NewFixedWindowLimiter(store, Policy{Name: "other", Max: 1, Window: time.Minute}, RateLimitOptions{})
	lookups.now = func() time.Time { return now }

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	invites.Handler(ok).ServeHTTP(rec, withIdentity(limitedRequest(), "user_1", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	invites.Handler(ok).ServeHTTP(rec, withIdentity(limitedRequest(), "user_2", ""))
	assert.Equal(t, http.StatusOK, rec.Code, "different principal, same address")

	rec = httptest.NewRecorder()
	lookups.Handler(ok).ServeHTTP(rec, withIdentity(limitedRequest(), "user_1", ""))
	assert.Equal(t, http.StatusOK, rec.Code, "different policy")

	rec = httptest.NewRecorder()
	invites.Handler(ok).ServeHTTP(rec, withIdentity(limitedRequest(), "user_1", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestFixedWindowLimiter_StoreFailure(t *testing.T) {
	t.Run("fails open by default", func(t *testing.T) {
		limiter := NewFixedWindowLimiter(failingCounterStore{}, DefaultPolicies()[PolicyBulkLookup], RateLimitOptions{})

		var c capture
		rec := httptest.NewRecorder()
		limiter.Handler(c.handler()).ServeHTTP(rec, limitedRequest())
		assert.True(t, c.called)
	})

	t.Run("fails closed when fallback disabled", func(t *testing.T) {
		limiter := NewFixedWindowLimiter(failingCounterStore{}, DefaultPolicies()[PolicyBulkLookup], RateLimitOptions{})
		limiter.SetFallbackEnabled(false)

		var c capture
		rec := httptest.NewRecorder()
		limiter.Handler(c.handler()).ServeHTTP(rec, limitedRequest())
		assert.False(t, c.called)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
