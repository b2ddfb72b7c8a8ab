package auth

import (
	"context"
	"time"
)

// Identity is the authenticated user attached to a request
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FirstName     *string   `json:"firstName,omitempty"`
	LastName      *string   `json:"lastName,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DisplayName returns "First Last" when either is present, otherwise the email
func (i *Identity) DisplayName() string {
	name := ""
	if i.FirstName != nil {
		name = *i.FirstName
	}
	if i.LastName != nil {
		if name != "" {
			name += " "
		}
		name += *i.LastName
	}
	if name == "" {
		return i.Email
	}
	return name
}

// Principal is the user record as returned by the identity authority.
// Name fields may be nil or empty depending on the provider.
type Principal struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	FirstName     *string   `json:"first_name,omitempty"`
	LastName      *string   `json:"last_name,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IdentityFromPrincipal maps an authority principal into an Identity.
// Nil and empty names both collapse to nil.
func IdentityFromPrincipal(p *Principal) *Identity {
	if p == nil {
		return nil
	}
	return &Identity{
		ID:            p.ID,
		Email:         p.Email,
		FirstName:     nonEmpty(p.FirstName),
		LastName:      nonEmpty(p.LastName),
		EmailVerified: p.EmailVerified,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

// Session is the material sealed into the session cookie
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	User         Principal `json:"user"`
}

// Expired reports whether the access token is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// AuthenticateResult is the outcome of validating sealed session material
type AuthenticateResult struct {
	Authenticated bool
	Principal     *Principal
	AccessToken   string
	// Reason is set when Authenticated is false
	Reason string
}

// RefreshResult is the outcome of a refresh attempt
type RefreshResult struct {
	Authenticated bool
	SealedSession string
	Reason        string
}

// Authority validates, refreshes and seals sessions.
// Errors signal transport failure and are treated as a plain failure by callers.
type Authority interface {
	Authenticate(ctx context.Context, sealed string) (*AuthenticateResult, error)
	Refresh(ctx context.Context, sealed string) (*RefreshResult, error)
	Seal(ctx context.Context, session *Session) (string, error)
}
