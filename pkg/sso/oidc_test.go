package sso

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

type fakeVerifier struct {
	mu     sync.Mutex
	tokens map[string]Claims
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{tokens: make(map[string]Claims)}
}

func (f *fakeVerifier) add(raw string, c Claims) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[raw] = c
}

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.tokens[raw]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &c, nil
}

// tokenServer is a stub OAuth2 token endpoint
type tokenServer struct {
	*httptest.Server
	calls   atomic.Int32
	mu      sync.Mutex
	status  int
	payload map[string]interface{}
	entered chan struct{}
	release chan struct{}
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		ts.mu.Lock()
		entered, release := ts.entered, ts.release
		status, payload := ts.status, ts.payload
		ts.mu.Unlock()

		if entered != nil {
			entered <- struct{}{}
		}
		if release != nil {
			<-release
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) respond(status int, payload map[string]interface{}) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.payload = payload
}

func (ts *tokenServer) block() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.entered = make(chan struct{}, 16)
	ts.release = make(chan struct{})
}

type harness struct {
	authority *OIDCAuthority
	verifier  *fakeVerifier
	server    *tokenServer
	sealer    *auth.Sealer
	metrics   *observability.Metrics
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server := newTokenServer(t)
	sealer, err := auth.NewSealer(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	cfg := validConfig()
	cfg.NativeRedirectURIs = []string{"addie://auth/callback"}

	verifier := newFakeVerifier()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	endpoint := oauth2.Endpoint{
		AuthURL:   server.URL + "/authorize",
		TokenURL:  server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	a := NewOIDCAuthorityWithVerifier(cfg, endpoint, verifier, sealer, nil, metrics)

	h := &harness{
		authority: a,
		verifier:  verifier,
		server:    server,
		sealer:    sealer,
		metrics:   metrics,
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	a.now = func() time.Time { return h.now }
	return h
}

func (h *harness) seal(t *testing.T, s *auth.Session) string {
	t.Helper()
	sealed, err := h.sealer.Seal(s)
	require.NoError(t, err)
	return sealed
}

func (h *harness) session(expiry time.Time) *auth.Session {
	first := "Ada"
	h.verifier.add("idt-1", Claims{Subject: "user_1", Email: "ada@example.com", GivenName: "Ada"})
	return &auth.Session{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		IDToken:      "idt-1",
		Expiry:       expiry,
		User: auth.Principal{
			ID:        "user_1",
			Email:     "ada@example.com",
			FirstName: &first,
		},
	}
}

func TestOIDCAuthority_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid session", func(t *testing.T) {
		h := newHarness(t)
		sealed := h.seal(t, h.session(h.now.Add(time.Hour)))

		result, err := h.authority.Authenticate(ctx, sealed)
		require.NoError(t, err)
		assert.True(t, result.Authenticated)
		require.NotNil(t, result.Principal)
		assert.Equal(t, "user_1", result.Principal.ID)
		assert.Equal(t, "at-1", result.AccessToken)
	})

	t.Run("garbage seal", func(t *testing.T) {
		h := newHarness(t)
		result, err := h.authority.Authenticate(ctx, "not-a-seal")
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonInvalidSeal, result.Reason)
	})

	t.Run("expired session", func(t *testing.T) {
		h := newHarness(t)
		sealed := h.seal(t, h.session(h.now.Add(-time.Second)))

		result, err := h.authority.Authenticate(ctx, sealed)
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonExpired, result.Reason)
	})

	t.Run("unverifiable id token", func(t *testing.T) {
		h := newHarness(t)
		s := h.session(h.now.Add(time.Hour))
		s.IDToken = "forged"
		sealed := h.seal(t, s)

		result, err := h.authority.Authenticate(ctx, sealed)
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonInvalidToken, result.Reason)
	})

	t.Run("id token for another subject", func(t *testing.T) {
		h := newHarness(t)
		s := h.session(h.now.Add(time.Hour))
		s.User.ID = "user_2"
		sealed := h.seal(t, s)

		result, err := h.authority.Authenticate(ctx, sealed)
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
	})
}

func TestOIDCAuthority_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates tokens and keeps user", func(t *testing.T) {
		h := newHarness(t)
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
		sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

		result, err := h.authority.Refresh(ctx, sealed)
		require.NoError(t, err)
		require.True(t, result.Authenticated)
		require.NotEmpty(t, result.SealedSession)

		next, err := h.sealer.Unseal(result.SealedSession)
		require.NoError(t, err)
		assert.Equal(t, "at-2", next.AccessToken)
		assert.Equal(t, "rt-2", next.RefreshToken)
		assert.Equal(t, "idt-1", next.IDToken)
		assert.Equal(t, "user_1", next.User.ID)
		assert.False(t, next.Expiry.IsZero())
	})

	t.Run("keeps old refresh token when none returned", func(t *testing.T) {
		h := newHarness(t)
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token": "at-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
		sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

		result, err := h.authority.Refresh(ctx, sealed)
		require.NoError(t, err)
		require.True(t, result.Authenticated)

		next, err := h.sealer.Unseal(result.SealedSession)
		require.NoError(t, err)
		assert.Equal(t, "rt-1", next.RefreshToken)
	})

	t.Run("new id token updates the user", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.add("idt-2", Claims{Subject: "user_1", Email: "ada@new.example.com", FamilyName: "Lovelace"})
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token": "at-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "idt-2",
		})
		sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

		result, err := h.authority.Refresh(ctx, sealed)
		require.NoError(t, err)
		require.True(t, result.Authenticated)

		next, err := h.sealer.Unseal(result.SealedSession)
		require.NoError(t, err)
		assert.Equal(t, "idt-2", next.IDToken)
		assert.Equal(t, "ada@new.example.com", next.User.Email)
		require.NotNil(t, next.User.LastName)
		assert.Equal(t, "Lovelace", *next.User.LastName)
	})

	t.Run("new id token for another subject is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.add("idt-other", Claims{Subject: "user_9"})
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token": "at-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "idt-other",
		})
		sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

		result, err := h.authority.Refresh(ctx, sealed)
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonInvalidToken, result.Reason)
	})

	t.Run("declined by provider", func(t *testing.T) {
		h := newHarness(t)
		h.server.respond(http.StatusBadRequest, map[string]interface{}{
			"error": "invalid_grant",
		})
		sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

		result, err := h.authority.Refresh(ctx, sealed)
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonRefreshDenied, result.Reason)
		assert.Empty(t, result.SealedSession)
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		h := newHarness(t)
		sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))
		h.server.Close()

		result, err := h.authority.Refresh(ctx, sealed)
		assert.Error(t, err)
		assert.Nil(t, result)
	})

	t.Run("no refresh token", func(t *testing.T) {
		h := newHarness(t)
		s := h.session(h.now.Add(-time.Minute))
		s.RefreshToken = ""
		sealed := h.seal(t, s)

		result, err := h.authority.Refresh(ctx, sealed)
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonNoRefreshToken, result.Reason)
		assert.Equal(t, int32(0), h.server.calls.Load())
	})

	t.Run("garbage seal", func(t *testing.T) {
		h := newHarness(t)
		result, err := h.authority.Refresh(ctx, "garbage")
		require.NoError(t, err)
		assert.False(t, result.Authenticated)
		assert.Equal(t, ReasonInvalidSeal, result.Reason)
	})
}

func TestOIDCAuthority_RefreshIsShared(t *testing.T) {
	h := newHarness(t)
	h.server.respond(http.StatusOK, map[string]interface{}{
		"access_token":  "at-2",
		"refresh_token": "rt-2",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
	h.server.block()
	sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

	const callers = 5
	results := make([]*auth.RefreshResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = h.authority.Refresh(context.Background(), sealed)
	}()
	<-h.server.entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.authority.Refresh(context.Background(), sealed)
		}(i)
	}
	// let the followers join the in-flight call
	time.Sleep(100 * time.Millisecond)
	close(h.server.release)
	wg.Wait()

	assert.Equal(t, int32(1), h.server.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Authenticated)
		assert.Equal(t, results[0].SealedSession, results[i].SealedSession)
	}
	assert.Equal(t, float64(callers), testutil.ToFloat64(h.metrics.SessionRefreshesTotal.WithLabelValues(observability.RefreshShared)))
}

func TestOIDCAuthority_RefreshCallerCancellation(t *testing.T) {
	h := newHarness(t)
	h.server.respond(http.StatusOK, map[string]interface{}{
		"access_token": "at-2",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	h.server.block()
	sealed := h.seal(t, h.session(h.now.Add(-time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.authority.Refresh(ctx, sealed)
		done <- err
	}()
	<-h.server.entered
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not return after cancellation")
	}

	// the shared exchange still completes for later callers
	follower := make(chan *auth.RefreshResult, 1)
	go func() {
		result, _ := h.authority.Refresh(context.Background(), sealed)
		follower <- result
	}()
	time.Sleep(50 * time.Millisecond)
	close(h.server.release)

	select {
	case result := <-follower:
		require.NotNil(t, result)
		assert.True(t, result.Authenticated)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not receive the shared result")
	}
}

func TestOIDCAuthority_ExchangeCode(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.add("idt-login", Claims{
			Subject:       "user_1",
			Email:         "ada@example.com",
			EmailVerified: true,
			GivenName:     "Ada",
		})
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token":  "at-login",
			"refresh_token": "rt-login",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      "idt-login",
		})

		session, err := h.authority.ExchangeCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "at-login", session.AccessToken)
		assert.Equal(t, "rt-login", session.RefreshToken)
		assert.Equal(t, "idt-login", session.IDToken)
		assert.Equal(t, "user_1", session.User.ID)
		assert.True(t, session.User.EmailVerified)
		assert.True(t, session.User.CreatedAt.IsZero(), "login time is not account creation time")
		assert.Equal(t, h.now, session.User.UpdatedAt)
	})

	t.Run("provider creation time is kept", func(t *testing.T) {
		h := newHarness(t)
		h.verifier.add("idt-login", Claims{
			Subject:   "user_1",
			Email:     "ada@example.com",
			CreatedAt: "2021-03-04T05:06:07Z",
		})
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token": "at-login",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     "idt-login",
		})

		session, err := h.authority.ExchangeCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), session.User.CreatedAt)
	})

	t.Run("missing id token", func(t *testing.T) {
		h := newHarness(t)
		h.server.respond(http.StatusOK, map[string]interface{}{
			"access_token": "at-login",
			"token_type":   "Bearer",
		})

		_, err := h.authority.ExchangeCode(ctx, "code-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no id_token")
	})

	t.Run("invalid code", func(t *testing.T) {
		h := newHarness(t)
		h.server.respond(http.StatusBadRequest, map[string]interface{}{"error": "invalid_grant"})

		_, err := h.authority.ExchangeCode(ctx, "bad")
		require.Error(t, err)
	})
}

func TestOIDCAuthority_AuthCodeURL(t *testing.T) {
	h := newHarness(t)
	u := h.authority.AuthCodeURL("state-123")
	assert.Contains(t, u, h.server.URL+"/authorize")
	assert.Contains(t, u, "state=state-123")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "client_id=test-client-id")
}

func TestOIDCAuthority_SealRoundTrip(t *testing.T) {
	h := newHarness(t)
	s := h.session(h.now.Add(time.Hour))

	sealed, err := h.authority.Seal(context.Background(), s)
	require.NoError(t, err)

	result, err := h.authority.Authenticate(context.Background(), sealed)
	require.NoError(t, err)
	assert.True(t, result.Authenticated)
}
