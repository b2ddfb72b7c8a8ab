package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// apiPrefix marks the machine-facing namespace; everything under it gets JSON
const apiPrefix = "/api/"

// WantsHTML reports whether r is a browser navigation: it accepts text/html and
// targets a path outside the API namespace
func WantsHTML(r *http.Request) bool {
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		return false
	}
	return r.URL.Path != "/api" && !strings.HasPrefix(r.URL.Path, apiPrefix)
}

// LoginRedirectURL appends return_to to loginURL, keeping any existing query
func LoginRedirectURL(loginURL, returnTo string) string {
	u, err := url.Parse(loginURL)
	if err != nil {
		return loginURL
	}
	q := u.Query()
	q.Set("return_to", returnTo)
	u.RawQuery = q.Encode()
	return u.String()
}

// Responder renders guard failures. Authentication-class failures use the
// browser/API split: a redirect to the login entry point, or a 401 body
// carrying login_url.
type Responder struct {
	LoginURL string
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewResponder creates a responder
func NewResponder(loginURL string, logger *observability.Logger, metrics *observability.Metrics) *Responder {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Responder{LoginURL: loginURL, Logger: logger, Metrics: metrics}
}

// Fail terminates the exchange for guard with ge
func (p *Responder) Fail(w http.ResponseWriter, r *http.Request, guard string, ge *auth.GuardError) {
	logger := observability.FromContext(r.Context(), p.Logger).WithFields(map[string]interface{}{
		"guard": guard,
		"code":  string(ge.Code),
	})

	if ge.Code == auth.CodeInternal {
		p.Metrics.RecordGuard(guard, observability.OutcomeError, string(ge.Code))
		logger.WithError(ge.Cause).Error("guard failed")
	} else {
		p.Metrics.RecordGuard(guard, observability.OutcomeDenied, string(ge.Code))
		logger.Debug("guard denied request")
	}

	if ge.Code.IsAuthentication() {
		if WantsHTML(r) {
			http.Redirect(w, r, LoginRedirectURL(p.LoginURL, r.URL.RequestURI()), http.StatusFound)
			return
		}
		ge = ge.With("login_url", p.LoginURL)
	}

	httputil.WriteGuardError(w, ge)
}

// Allow records a successful guard decision
func (p *Responder) Allow(guard string) {
	p.Metrics.RecordGuard(guard, observability.OutcomeAllowed, "")
}
