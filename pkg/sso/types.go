package sso

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// DefaultRefreshTimeout bounds a single refresh-token exchange
const DefaultRefreshTimeout = 10 * time.Second

// DefaultScopes are requested when none are configured
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// OIDCConfig holds OpenID Connect configuration
type OIDCConfig struct {
	IssuerURL      string        `json:"issuer_url" yaml:"issuer_url"`
	ClientID       string        `json:"client_id" yaml:"client_id"`
	ClientSecret   string        `json:"-" yaml:"-"` // Never expose secret
	RedirectURL    string        `json:"redirect_url" yaml:"redirect_url"`
	Scopes         []string      `json:"scopes" yaml:"scopes"`
	RefreshTimeout time.Duration `json:"refresh_timeout" yaml:"refresh_timeout"`
	// NativeRedirectURIs lists the exact deep-link callbacks native clients may request
	NativeRedirectURIs []string `json:"native_redirect_uris,omitempty" yaml:"native_redirect_uris"`
}

// Validate validates the OIDC configuration
func (c *OIDCConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}

	hasOpenID := false
	for _, scope := range c.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("scopes must include 'openid'")
	}

	for _, raw := range c.NativeRedirectURIs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid native redirect uri %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Scheme == "http" || u.Scheme == "https" {
			return fmt.Errorf("native redirect uri %q must use a custom scheme", raw)
		}
	}
	return nil
}

func (c *OIDCConfig) refreshTimeout() time.Duration {
	if c.RefreshTimeout <= 0 {
		return DefaultRefreshTimeout
	}
	return c.RefreshTimeout
}

func (c *OIDCConfig) nativeRedirectAllowed(uri string) bool {
	for _, allowed := range c.NativeRedirectURIs {
		if strings.EqualFold(allowed, uri) {
			return true
		}
	}
	return false
}

// Claims are the ID token claims mapped into a principal
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	UpdatedAt     int64  `json:"updated_at,omitempty"`
	// CreatedAt is the non-standard account creation claim (RFC 3339) some providers send
	CreatedAt string `json:"created_at,omitempty"`
}

// Principal converts the claims into an authority principal
func (c *Claims) Principal() auth.Principal {
	p := auth.Principal{
		ID:            c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
	}
	if c.GivenName != "" {
		given := c.GivenName
		p.FirstName = &given
	}
	if c.FamilyName != "" {
		family := c.FamilyName
		p.LastName = &family
	}
	if c.UpdatedAt > 0 {
		p.UpdatedAt = time.Unix(c.UpdatedAt, 0).UTC()
	}
	if created, err := time.Parse(time.RFC3339, c.CreatedAt); err == nil {
		p.CreatedAt = created.UTC()
	}
	return p
}
