package auth

import (
	"net/http"
	"time"
)

const (
	// SessionCookieName holds the sealed session
	SessionCookieName = "wos-session"
	// SessionMaxAge is the lifetime of the session cookie
	SessionMaxAge = 7 * 24 * time.Hour
)

// CookieOptions controls the session cookie attributes
type CookieOptions struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// DefaultCookieOptions returns the standard session cookie settings.
// Secure is only set in production so local http development works.
func DefaultCookieOptions(production bool) CookieOptions {
	return CookieOptions{
		Name:   SessionCookieName,
		Secure: production,
		MaxAge: SessionMaxAge,
	}
}

func (o CookieOptions) name() string {
	if o.Name == "" {
		return SessionCookieName
	}
	return o.Name
}

// SessionFromRequest returns the sealed session cookie value, or "" when absent
func SessionFromRequest(r *http.Request, opts CookieOptions) string {
	c, err := r.Cookie(opts.name())
	if err != nil {
		return ""
	}
	return c.Value
}

// SetSessionCookie writes the sealed session to the response
func SetSessionCookie(w http.ResponseWriter, opts CookieOptions, sealed string) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = SessionMaxAge
	}
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
