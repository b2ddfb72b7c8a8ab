package sso

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Reasons reported on unauthenticated results
const (
	ReasonInvalidSeal    = "invalid_seal"
	ReasonExpired        = "expired"
	ReasonInvalidToken   = "invalid_id_token"
	ReasonNoRefreshToken = "no_refresh_token"
	ReasonRefreshDenied  = "refresh_declined"
)

// TokenVerifier verifies a raw ID token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*Claims, error)
}

type idTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v idTokenVerifier) Verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = token.Subject
	}
	return &claims, nil
}

// OIDCAuthority validates and refreshes sealed sessions against an OpenID Connect provider
type OIDCAuthority struct {
	config   *OIDCConfig
	oauth2   oauth2.Config
	verifier TokenVerifier
	sealer   *auth.Sealer
	logger   *observability.Logger
	metrics  *observability.Metrics
	group    singleflight.Group
	now      func() time.Time
}

var _ auth.Authority = (*OIDCAuthority)(nil)

// NewOIDCAuthority discovers the provider at cfg.IssuerURL and builds an authority
func NewOIDCAuthority(ctx context.Context, cfg *OIDCConfig, sealer *auth.Sealer, logger *observability.Logger, metrics *observability.Metrics) (*OIDCAuthority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC config: %w", err)
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// Expiry is governed by the sealed session, and refresh responses may
	// omit a new ID token.
	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipExpiryCheck: true,
	})

	return NewOIDCAuthorityWithVerifier(cfg, provider.Endpoint(), idTokenVerifier{verifier: verifier}, sealer, logger, metrics), nil
}

// NewOIDCAuthorityWithVerifier builds an authority from explicit endpoints and verifier
func NewOIDCAuthorityWithVerifier(cfg *OIDCConfig, endpoint oauth2.Endpoint, verifier TokenVerifier, sealer *auth.Sealer, logger *observability.Logger, metrics *observability.Metrics) *OIDCAuthority {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &OIDCAuthority{
		config: cfg,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier: verifier,
		sealer:   sealer,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Config returns the configuration the authority was built with
func (a *OIDCAuthority) Config() *OIDCConfig {
	return a.config
}

// AuthCodeURL returns the provider login URL carrying state
func (a *OIDCAuthority) AuthCodeURL(state string) string {
	return a.oauth2.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode trades an authorization code for a verified session
func (a *OIDCAuthority) ExchangeCode(ctx context.Context, code string) (*auth.Session, error) {
	ctx, span := observability.StartSpan(ctx, "sso.exchange_code")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	token, err := a.oauth2.Exchange(ctx, code)
	if err != nil {
		err = fmt.Errorf("failed to exchange code: %w", err)
		return nil, err
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		err = fmt.Errorf("no id_token in token response")
		return nil, err
	}

	claims, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		err = fmt.Errorf("failed to verify ID token: %w", err)
		return nil, err
	}

	// CreatedAt stays zero unless the provider reports account creation
	user := claims.Principal()
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = a.now().UTC()
	}

	return &auth.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       token.Expiry,
		User:         user,
	}, nil
}

// Authenticate opens the sealed session and checks it is still valid.
// An invalid or expired session is a false result, not an error.
func (a *OIDCAuthority) Authenticate(ctx context.Context, sealed string) (*auth.AuthenticateResult, error) {
	session, err := a.sealer.Unseal(sealed)
	if err != nil {
		return &auth.AuthenticateResult{Reason: ReasonInvalidSeal}, nil
	}

	if session.Expired(a.now()) {
		return &auth.AuthenticateResult{Reason: ReasonExpired}, nil
	}

	if session.IDToken != "" {
		claims, err := a.verifier.Verify(ctx, session.IDToken)
		if err != nil {
			a.logger.WithError(err).Debug("ID token verification failed")
			return &auth.AuthenticateResult{Reason: ReasonInvalidToken}, nil
		}
		if claims.Subject != session.User.ID {
			return &auth.AuthenticateResult{Reason: ReasonInvalidToken}, nil
		}
	}

	user := session.User
	return &auth.AuthenticateResult{
		Authenticated: true,
		Principal:     &user,
		AccessToken:   session.AccessToken,
	}, nil
}

// Refresh exchanges the session's refresh token for new material.
// Concurrent refreshes of the same sealed value share one provider call.
func (a *OIDCAuthority) Refresh(ctx context.Context, sealed string) (*auth.RefreshResult, error) {
	session, err := a.sealer.Unseal(sealed)
	if err != nil {
		return &auth.RefreshResult{Reason: ReasonInvalidSeal}, nil
	}
	if session.RefreshToken == "" {
		return &auth.RefreshResult{Reason: ReasonNoRefreshToken}, nil
	}

	sum := sha256.Sum256([]byte(sealed))
	key := hex.EncodeToString(sum[:])

	// The shared call outlives any single caller so one cancelled request
	// cannot fail the others waiting on it.
	callCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		return a.refresh(callCtx, session)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			a.metrics.RecordRefresh(observability.RefreshShared)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*auth.RefreshResult), nil
	}
}

func (a *OIDCAuthority) refresh(ctx context.Context, session *auth.Session) (*auth.RefreshResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.refreshTimeout())
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "sso.refresh",
		attribute.String("user.id", session.User.ID))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	source := a.oauth2.TokenSource(ctx, &oauth2.Token{RefreshToken: session.RefreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			a.logger.WithFields(map[string]interface{}{
				"user_id":    session.User.ID,
				"error_code": retrieveErr.ErrorCode,
			}).Info("Refresh token declined by provider")
			err = nil
			return &auth.RefreshResult{Reason: ReasonRefreshDenied}, nil
		}
		err = fmt.Errorf("failed to refresh token: %w", err)
		return nil, err
	}

	next := &auth.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      session.IDToken,
		Expiry:       token.Expiry,
		User:         session.User,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = session.RefreshToken
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		claims, verr := a.verifier.Verify(ctx, rawIDToken)
		if verr != nil || claims.Subject != session.User.ID {
			a.logger.WithField("user_id", session.User.ID).Warn("Refreshed ID token rejected")
			return &auth.RefreshResult{Reason: ReasonInvalidToken}, nil
		}
		user := claims.Principal()
		if user.CreatedAt.IsZero() {
			user.CreatedAt = session.User.CreatedAt
		}
		if user.UpdatedAt.IsZero() {
			user.UpdatedAt = session.User.UpdatedAt
		}
		next.IDToken = rawIDToken
		next.User = user
	}

	sealed, err := a.sealer.Seal(next)
	if err != nil {
		return nil, err
	}
	return &auth.RefreshResult{Authenticated: true, SealedSession: sealed}, nil
}

// Seal encrypts session into an opaque cookie value
func (a *OIDCAuthority) Seal(_ context.Context, session *auth.Session) (string, error) {
	return a.sealer.Seal(session)
}
