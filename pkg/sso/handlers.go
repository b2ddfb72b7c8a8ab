package sso

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const (
	// StateCookieName carries the login state between /auth/login and /auth/callback
	StateCookieName = "tg_login_state"
	stateMaxAge     = 10 * time.Minute
)

// Handlers provides the login, callback and logout endpoints
type Handlers struct {
	authority *OIDCAuthority
	cookie    auth.CookieOptions
	accessLog *auth.AccessLogger
	logger    *observability.Logger
}

// NewHandlers creates the login handlers
func NewHandlers(authority *OIDCAuthority, cookie auth.CookieOptions, accessLog *auth.AccessLogger, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if accessLog == nil {
		accessLog = auth.NewAccessLogger(logger)
	}
	return &Handlers{
		authority: authority,
		cookie:    cookie,
		accessLog: accessLog,
		logger:    logger,
	}
}

// RegisterRoutes registers the auth routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.login).Methods("GET")
	router.HandleFunc("/auth/callback", h.callback).Methods("GET")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")
}

// login handles GET /auth/login?return_to=
//
// Native clients pass native=true and a registered redirect_uri; the sealed
// session is then handed back through that deep link instead of a cookie.
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	state := url.Values{}
	state.Set("state", uuid.New().String())
	state.Set("return_to", httputil.SafeReturnPath(query.Get("return_to")))

	if query.Get("native") == "true" {
		redirectURI := query.Get("redirect_uri")
		if !h.authority.Config().nativeRedirectAllowed(redirectURI) {
			httputil.WriteBadRequest(w, "redirect_uri is not registered")
			return
		}
		state.Set("native_redirect", redirectURI)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state.Encode(),
		Path:     "/auth",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.authority.AuthCodeURL(state.Get("state")), http.StatusFound)
}

// callback handles GET /auth/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, h.logger)
	query := r.URL.Query()

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid_state", "missing login state")
		return
	}
	h.clearState(w)

	state, err := url.ParseQuery(stateCookie.Value)
	if err != nil || state.Get("state") == "" || state.Get("state") != query.Get("state") {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid_state", "invalid state parameter")
		return
	}

	if idpErr := query.Get("error"); idpErr != "" {
		h.logFailure(r, idpErr)
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "login_failed", "the identity provider rejected the login")
		return
	}

	code := query.Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing code")
		return
	}

	session, err := h.authority.ExchangeCode(ctx, code)
	if err != nil {
		logger.WithError(err).Warn("Login code exchange failed")
		h.logFailure(r, "code_exchange_failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "login_failed", "could not complete login")
		return
	}

	sealed, err := h.authority.Seal(ctx, session)
	if err != nil {
		logger.WithError(err).Error("Failed to seal session")
		httputil.WriteInternalError(w)
		return
	}

	_ = h.accessLog.Log(ctx, auth.AccessDecision{
		Action:    auth.ActionAuthSuccess,
		Status:    auth.StatusGranted,
		UserID:    session.User.ID,
		Email:     session.User.Email,
		Path:      r.URL.Path,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Reason:    "login",
	})

	if native := state.Get("native_redirect"); native != "" {
		http.Redirect(w, r, nativeCallbackURL(native, sealed, &session.User), http.StatusFound)
		return
	}

	auth.SetSessionCookie(w, h.cookie, sealed)
	http.Redirect(w, r, httputil.SafeReturnPath(state.Get("return_to")), http.StatusFound)
}

// logout handles POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookie)
	httputil.WriteNoContent(w)
}

func (h *Handlers) clearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) logFailure(r *http.Request, reason string) {
	_ = h.accessLog.Log(r.Context(), auth.AccessDecision{
		Action:    auth.ActionAuthFailure,
		Status:    auth.StatusFailure,
		Path:      r.URL.Path,
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Reason:    reason,
	})
}

func nativeCallbackURL(redirectURI, sealed string, user *auth.Principal) string {
	params := url.Values{}
	params.Set("sealed_session", sealed)
	params.Set("user_id", user.ID)
	params.Set("email", user.Email)
	if user.FirstName != nil {
		params.Set("first_name", *user.FirstName)
	}
	if user.LastName != nil {
		params.Set("last_name", *user.LastName)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI + "?" + params.Encode()
	}
	existing := u.Query()
	for k, v := range params {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()
	return u.String()
}
