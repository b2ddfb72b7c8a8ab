package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Endpoint classes with their own counters
const (
	PolicyInvitation       = "invitation"
	PolicyCompanyCreation  = "company_creation"
	PolicyPublicSubmission = "public_submission"
	PolicyBulkLookup       = "bulk_lookup"
)

// Policy is the limit for one endpoint class
type Policy struct {
	Name    string        `yaml:"name"`
	Max     int64         `yaml:"max"`
	Window  time.Duration `yaml:"window"`
	Message string        `yaml:"message"`
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("rate limit policy name is required")
	}
	if p.Max <= 0 {
		return fmt.Errorf("rate limit policy %s: max must be positive", p.Name)
	}
	if p.Window < time.Second {
		return fmt.Errorf("rate limit policy %s: window must be at least 1s", p.Name)
	}
	return nil
}

// DefaultPolicies returns the built-in limits keyed by class
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyInvitation: {
			Name:    PolicyInvitation,
			Max:     10,
			Window:  time.Hour,
			Message: "Too many invitations sent. Please try again later.",
		},
		PolicyCompanyCreation: {
			Name:    PolicyCompanyCreation,
			Max:     5,
			Window:  time.Hour,
			Message: "Too many companies created. Please try again later.",
		},
		PolicyPublicSubmission: {
			Name:    PolicyPublicSubmission,
			Max:     5,
			Window:  15 * time.Minute,
			Message: "Too many submissions. Please try again later.",
		},
		PolicyBulkLookup: {
			Name:    PolicyBulkLookup,
			Max:     30,
			Window:  time.Minute,
			Message: "Too many lookup requests. Please slow down.",
		},
	}
}

// ClientIP returns the request's source address. X-Forwarded-For is honoured
// only when trustProxy is set, and then only its first hop.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// CollapseIPv6 maps an IPv6 address to its /64 network rendered as
// "a:b:c:d::/64". IPv4, IPv4-mapped (returned unmapped) and unparseable
// values such as "unknown" pass through.
func CollapseIPv6(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	if addr.Is4() {
		return ip
	}
	if addr.Is4In6() {
		return addr.Unmap().String()
	}

	b := addr.As16()
	return fmt.Sprintf("%x:%x:%x:%x::/64",
		uint16(b[0])<<8|uint16(b[1]),
		uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
	)
}

// RateLimitKey buckets a request: the authenticated identity id when
// present, otherwise the client address with IPv6 collapsed to its /64
func RateLimitKey(r *http.Request, trustProxy bool) string {
	if identity, ok := auth.FromContext(r.Context()).Identity(); ok && identity.ID != "" {
		return identity.ID
	}
	return CollapseIPv6(ClientIP(r, trustProxy))
}

// CounterStore increments a fixed-window counter and returns the new count.
// Increment must be atomic per (key, windowID).
type CounterStore interface {
	Increment(ctx context.Context, key string, windowID int64, window time.Duration) (int64, error)
}

// MemoryCounterStore is a single-process CounterStore
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

type memoryCounter struct {
	windowID  int64
	count     int64
	expiresAt time.Time
}

// NewMemoryCounterStore creates an in-memory counter store
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*memoryCounter)}
}

// Increment implements CounterStore
func (s *MemoryCounterStore) Increment(ctx context.Context, key string, windowID int64, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || c.windowID != windowID {
		c = &memoryCounter{
			windowID:  windowID,
			expiresAt: time.Unix(0, (windowID+1)*int64(window)),
		}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Sweep drops counters whose window ended before now and returns how many were removed
func (s *MemoryCounterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if !now.Before(c.expiresAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// RateLimitOptions configures a FixedWindowLimiter
type RateLimitOptions struct {
	TrustProxy bool
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	AccessLog  *auth.AccessLogger
}

// FixedWindowLimiter enforces one Policy with windows aligned to the epoch
type FixedWindowLimiter struct {
	store           CounterStore
	policy          Policy
	trustProxy      bool
	fallbackEnabled bool
	logger          *observability.Logger
	metrics         *observability.Metrics
	accessLog       *auth.AccessLogger
	now             func() time.Time
}

// NewFixedWindowLimiter creates a limiter for policy
func NewFixedWindowLimiter(store CounterStore, policy Policy, opts RateLimitOptions) *FixedWindowLimiter {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	accessLog := opts.AccessLog
	if accessLog == nil {
		accessLog = auth.NewAccessLogger(logger)
	}
	return &FixedWindowLimiter{
		store:           store,
		policy:          policy,
		trustProxy:      opts.TrustProxy,
		fallbackEnabled: true,
		logger:          logger,
		metrics:         opts.Metrics,
		accessLog:       accessLog,
		now:             time.Now,
	}
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false) on store errors
func (l *FixedWindowLimiter) SetFallbackEnabled(enabled bool) {
	l.fallbackEnabled = enabled
}

// Policy returns the enforced policy
func (l *FixedWindowLimiter) Policy() Policy {
	return l.policy
}

// window returns the id of the window containing now and the instant it ends
func (l *FixedWindowLimiter) window(now time.Time) (int64, time.Time) {
	size := int64(l.policy.Window)
	id := now.UnixNano() / size
	return id, time.Unix(0, (id+1)*size)
}

// Handler wraps next with the rate limit
func (l *FixedWindowLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := l.now()
		key := RateLimitKey(r, l.trustProxy)
		windowID, windowEnd := l.window(now)

		count, err := l.store.Increment(r.Context(), fmt.Sprintf("ratelimit:%s:%s", l.policy.Name, key), windowID, l.policy.Window)
		if err != nil {
			l.metrics.RecordRateLimitStoreError(l.policy.Name)
			observability.FromContext(r.Context(), l.logger).
				WithError(err).
				WithField("policy", l.policy.Name).
				Error("rate limit store failed")
			if l.fallbackEnabled {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeUnavailable, "Service temporarily unavailable"))
			return
		}

		remaining := l.policy.Max - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(l.policy.Max, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(windowEnd.Unix(), 10))

		if count > l.policy.Max {
			retryAfter := int64(math.Ceil(windowEnd.Sub(now).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}

			l.metrics.RecordRateLimited(l.policy.Name)
			_ = l.accessLog.LogFromRequest(r, auth.ActionRateLimitExceeded, auth.StatusDenied, l.policy.Name)

			message := l.policy.Message
			if message == "" {
				message = "Too many requests. Please try again later."
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeRateLimited, message).With("retryAfter", retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}
