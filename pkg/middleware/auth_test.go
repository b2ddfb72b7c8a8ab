package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionAuth(authority auth.Authority) *SessionAuth {
	return NewSessionAuth(authority, auth.DefaultCookieOptions(true), testResponder(), nil)
}

func withSession(r *http.Request, sealed string) *http.Request {
	r.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sealed})
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	return nil
}

func TestAuthenticate_NoSession(t *testing.T) {
	authority := newFakeAuthority()
	m := newTestSessionAuth(authority)

	t.Run("api request gets 401 with login_url", func(t *testing.T) {
		var c capture
		rec := httptest.NewRecorder()
		m.Authenticate(c.handler()).ServeHTTP(rec, apiRequest(http.MethodGet, "/api/me"))

		assert.False(t, c.called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "no_session", body["error"])
		assert.Equal(t, testLoginURL, body["login_url"])
		assert.NotEmpty(t, body["message"])
	})

	t.Run("browser request is redirected with return_to", func(t *testing.T) {
		var c capture
		rec := httptest.NewRecorder()
		m.Authenticate(c.handler()).ServeHTTP(rec, browserRequest("/dashboard?tab=team"))

		assert.False(t, c.called)
		assert.Equal(t, http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", loc.Host)
		assert.Equal(t, "/auth/login", loc.Path)
		assert.Equal(t, "/dashboard?tab=team", loc.Query().Get("return_to"))
	})

	t.Run("browser accept under /api/ still gets json", func(t *testing.T) {
		req := browserRequest("/api/me")
		rec := httptest.NewRecorder()
		m.Authenticate(http.NotFoundHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Zero(t, authority.authCalls, "authority must not be called without a cookie")
}

func TestAuthenticate_ValidSession(t *testing.T) {
	authority := newFakeAuthority()
	authority.valid["sealed-1"] = &auth.Principal{ID: "user_1", Email: "a@example.com", FirstName: strPtr("")}
	m := newTestSessionAuth(authority)

	var c capture
	rec := httptest.NewRecorder()
	m.Authenticate(c.handler()).ServeHTTP(rec, withSession(apiRequest(http.MethodGet, "/api/me"), "sealed-1"))

	require.True(t, c.called)
	identity, ok := c.rc.Identity()
	require.True(t, ok)
	assert.Equal(t, "user_1", identity.ID)
	assert.Nil(t, identity.FirstName, "empty provider names collapse to nil")
	assert.Equal(t, "at:sealed-1", c.rc.AccessToken())

	assert.Nil(t, sessionCookie(rec), "cookie must not be rewritten without a refresh")
	assert.Zero(t, authority.refreshCalls)
}

func TestAuthenticate_RefreshSucceeds(t *testing.T) {
	authority := newFakeAuthority()
	authority.refreshTo["stale"] = "fresh"
	authority.valid["fresh"] = &auth.Principal{ID: "user_2", Email: "b@example.com"}
	m := newTestSessionAuth(authority)

	var c capture
	rec := httptest.NewRecorder()
	m.Authenticate(c.handler()).ServeHTTP(rec, withSession(apiRequest(http.MethodGet, "/api/me"), "stale"))

	require.True(t, c.called)
	identity, ok := c.rc.Identity()
	require.True(t, ok)
	assert.Equal(t, "user_2", identity.ID)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie, "refreshed session must be written back")
	assert.Equal(t, "fresh", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)

	assert.Equal(t, 1, authority.refreshCalls)
	assert.Equal(t, 2, authority.authCalls)
}

func TestAuthenticate_RefreshAtMostOnce(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeAuthority)
	}{
		{
			name: "refresh declines",
			setup: func(f *fakeAuthority) {},
		},
		{
			name: "refresh errors",
			setup: func(f *fakeAuthority) {
				f.refreshErr = errors.New("authority unavailable")
			},
		},
		{
			name: "refreshed session fails validation",
			setup: func(f *fakeAuthority) {
				f.refreshTo["stale"] = "also-stale"
				f.refreshTo["also-stale"] = "never-used"
			},
		},
		{
			name: "authority transport failure",
			setup: func(f *fakeAuthority) {
				f.authErr = errors.New("dial tcp: timeout")
				f.refreshTo["stale"] = "fresh"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := newFakeAuthority()
			tt.setup(authority)
			m := newTestSessionAuth(authority)

			var c capture
			rec := httptest.NewRecorder()
			m.Authenticate(c.handler()).ServeHTTP(rec, withSession(apiRequest(http.MethodGet, "/api/me"), "stale"))

			assert.False(t, c.called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "invalid_session", decodeBody(t, rec)["error"])
			assert.Equal(t, 1, authority.refreshCalls)
			assert.Nil(t, sessionCookie(rec), "no cookie may be written when recovery fails")
		})
	}
}

func TestAuthenticate_CancelledRequestDoesNotCommitCookie(t *testing.T) {
	authority := newFakeAuthority()
	authority.refreshTo["stale"] = "fresh"
	authority.valid["fresh"] = &auth.Principal{ID: "user_2"}
	m := newTestSessionAuth(authority)

	req := withSession(apiRequest(http.MethodGet, "/api/me"), "stale")
	ctx, cancel := context.WithCancel(req.Context())
	cancel()

	var c capture
	rec := httptest.NewRecorder()
	m.Authenticate(c.handler()).ServeHTTP(rec, req.WithContext(ctx))

	assert.False(t, c.called)
	assert.Nil(t, sessionCookie(rec))
}

func TestOptional_NeverAborts(t *testing.T) {
	tests := []struct {
		name   string
		sealed string
		setup  func(f *fakeAuthority)
	}{
		{name: "no cookie", setup: func(f *fakeAuthority) {}},
		{name: "invalid session", sealed: "junk", setup: func(f *fakeAuthority) {}},
		{
			name:   "authority failure",
			sealed: "sealed-1",
			setup: func(f *fakeAuthority) {
				f.authErr = errors.New("connection reset")
				f.refreshErr = errors.New("connection reset")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := newFakeAuthority()
			tt.setup(authority)
			m := newTestSessionAuth(authority)

			req := apiRequest(http.MethodPost, "/api/public/submissions")
			if tt.sealed != "" {
				req = withSession(req, tt.sealed)
			}

			var c capture
			rec := httptest.NewRecorder()
			m.Optional(c.handler()).ServeHTTP(rec, req)

			require.True(t, c.called)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.False(t, c.rc.Authenticated())
		})
	}
}

func TestOptional_AttachesIdentityAndRefreshes(t *testing.T) {
	authority := newFakeAuthority()
	authority.refreshTo["stale"] = "fresh"
	authority.valid["fresh"] = &auth.Principal{ID: "user_3"}
	m := newTestSessionAuth(authority)

	var c capture
	rec := httptest.NewRecorder()
	m.Optional(c.handler()).ServeHTTP(rec, withSession(apiRequest(http.MethodGet, "/api/session"), "stale"))

	require.True(t, c.called)
	assert.True(t, c.rc.Authenticated())
	require.NotNil(t, sessionCookie(rec))
	assert.Equal(t, "fresh", sessionCookie(rec).Value)
}

func TestAuthenticate_RecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	authority := newFakeAuthority()
	authority.refreshTo["stale"] = "fresh"
	authority.valid["fresh"] = &auth.Principal{ID: "user_2"}
	m := NewSessionAuth(authority, auth.DefaultCookieOptions(false),
		NewResponder(testLoginURL, observability.NewNopLogger(), metrics), nil)

	m.Authenticate(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(),
		withSession(apiRequest(http.MethodGet, "/api/me"), "stale"))
	m.Authenticate(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(),
		apiRequest(http.MethodGet, "/api/me"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionRefreshesTotal.WithLabelValues(observability.RefreshSucceeded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("authenticate", observability.OutcomeAllowed, "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("authenticate", observability.OutcomeDenied, "no_session")))
}
