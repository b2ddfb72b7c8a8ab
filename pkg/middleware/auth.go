package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	guardAuthenticate         = "authenticate"
	guardOptionalAuthenticate = "optional_authenticate"
)

// SessionAuth establishes identity from the sealed session cookie, renewing
// it once through the authority when validation fails
type SessionAuth struct {
	authority auth.Authority
	cookie    auth.CookieOptions
	responder *Responder
	accessLog *auth.AccessLogger
}

// NewSessionAuth creates the authentication guards
func NewSessionAuth(authority auth.Authority, cookie auth.CookieOptions, responder *Responder, accessLog *auth.AccessLogger) *SessionAuth {
	if accessLog == nil {
		accessLog = auth.NewAccessLogger(responder.Logger)
	}
	return &SessionAuth{
		authority: authority,
		cookie:    cookie,
		responder: responder,
		accessLog: accessLog,
	}
}

// Authenticate requires a valid session and aborts the chain otherwise
func (m *SessionAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, ge := m.establish(w, r)
		if ge != nil {
			if ge.Code == auth.CodeInvalidSession {
				_ = m.accessLog.LogFromRequest(r, auth.ActionAuthFailure, auth.StatusDenied, ge.Message)
			}
			m.responder.Fail(w, r, guardAuthenticate, ge)
			return
		}
		m.responder.Allow(guardAuthenticate)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional attaches an identity when one can be established and otherwise
// continues anonymously. It never writes a failure response.
func (m *SessionAuth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, ge := m.establish(w, r)
		if ge != nil {
			m.responder.Metrics.RecordGuard(guardOptionalAuthenticate, observability.OutcomeAllowed, string(ge.Code))
			next.ServeHTTP(w, r)
			return
		}
		m.responder.Allow(guardOptionalAuthenticate)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// establish validates the session, refreshing at most once. The replacement
// cookie is written only after the refreshed session re-validates.
func (m *SessionAuth) establish(w http.ResponseWriter, r *http.Request) (context.Context, *auth.GuardError) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, m.responder.Logger)

	sealed := auth.SessionFromRequest(r, m.cookie)
	if sealed == "" {
		return nil, auth.NewGuardError(auth.CodeNoSession, "Authentication required")
	}

	result, err := m.authenticate(ctx, sealed)
	if err != nil {
		logger.WithError(err).Debug("session validation failed, attempting refresh")
	}
	if authenticated(result) {
		return m.attach(ctx, result), nil
	}

	refreshed, err := m.refresh(ctx, sealed)
	if err != nil {
		m.responder.Metrics.RecordRefresh(observability.RefreshFailed)
		logger.WithError(err).Warn("session refresh failed")
		return nil, invalidSession()
	}
	if refreshed == nil || !refreshed.Authenticated || refreshed.SealedSession == "" {
		m.responder.Metrics.RecordRefresh(observability.RefreshFailed)
		return nil, invalidSession()
	}

	result, err = m.authenticate(ctx, refreshed.SealedSession)
	if err != nil || !authenticated(result) {
		m.responder.Metrics.RecordRefresh(observability.RefreshFailed)
		logger.WithError(err).Warn("refreshed session failed validation")
		return nil, invalidSession()
	}
	if ctx.Err() != nil {
		return nil, invalidSession()
	}

	m.responder.Metrics.RecordRefresh(observability.RefreshSucceeded)
	auth.SetSessionCookie(w, m.cookie, refreshed.SealedSession)

	ctx = m.attach(ctx, result)
	_ = m.accessLog.Log(ctx, auth.AccessDecision{
		Action: auth.ActionSessionRefresh,
		Status: auth.StatusGranted,
		UserID: result.Principal.ID,
		Path:   r.URL.Path,
	})
	return ctx, nil
}

func (m *SessionAuth) authenticate(ctx context.Context, sealed string) (*auth.AuthenticateResult, error) {
	ctx, span := observability.StartSpan(ctx, "authority.authenticate")
	start := time.Now()
	result, err := m.authority.Authenticate(ctx, sealed)
	m.responder.Metrics.ObserveAuthority("authenticate", start)
	if result != nil {
		span.SetAttributes(attribute.Bool("authenticated", result.Authenticated))
	}
	observability.EndSpan(span, err)
	return result, err
}

func (m *SessionAuth) refresh(ctx context.Context, sealed string) (*auth.RefreshResult, error) {
	ctx, span := observability.StartSpan(ctx, "authority.refresh")
	start := time.Now()
	result, err := m.authority.Refresh(ctx, sealed)
	m.responder.Metrics.ObserveAuthority("refresh", start)
	if result != nil {
		span.SetAttributes(attribute.Bool("authenticated", result.Authenticated))
	}
	observability.EndSpan(span, err)
	return result, err
}

func (m *SessionAuth) attach(ctx context.Context, result *auth.AuthenticateResult) context.Context {
	rc := auth.FromContext(ctx).WithIdentity(auth.IdentityFromPrincipal(result.Principal), result.AccessToken)
	return auth.NewContext(ctx, rc)
}

func authenticated(result *auth.AuthenticateResult) bool {
	return result != nil && result.Authenticated && result.Principal != nil
}

func invalidSession() *auth.GuardError {
	return auth.NewGuardError(auth.CodeInvalidSession, "Session is invalid or expired")
}
