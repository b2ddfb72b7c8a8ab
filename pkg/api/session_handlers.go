package api

import (
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// SessionResponse describes the caller's session state
type SessionResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *auth.Identity `json:"user"`
}

// getMe handles GET /api/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context()).Identity()
	if !ok {
		httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeUnauthenticated, "Authentication required"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user":        identity,
		"displayName": identity.DisplayName(),
	})
}

// getSession handles GET /api/session; anonymous callers get authenticated=false
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{}
	if identity, ok := auth.FromContext(r.Context()).Identity(); ok {
		resp.Authenticated = true
		resp.User = &identity
	}
	httputil.WriteSuccess(w, resp)
}

// adminHome handles GET /admin
func (s *Server) adminHome(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context()).Identity()
	httputil.WriteSuccess(w, map[string]interface{}{
		"admin": true,
		"email": identity.Email,
	})
}
