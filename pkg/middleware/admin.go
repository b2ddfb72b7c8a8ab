package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

const guardRequireAdmin = "require_admin"

const adminDeniedPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Access denied</title>
<style>body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;color:#222}</style>
</head>
<body>
<h1>Access denied</h1>
<p>You do not have permission to view this page.</p>
<p><a href="/">Return home</a></p>
</body>
</html>
`

// AdminGuard restricts platform administration to a static email allow-list.
// It is independent of tenant membership.
type AdminGuard struct {
	admins    map[string]struct{}
	responder *Responder
	accessLog *auth.AccessLogger
}

// NewAdminGuard creates an admin guard. An empty list locks everyone out and
// logs a warning.
func NewAdminGuard(emails []string, responder *Responder, accessLog *auth.AccessLogger) *AdminGuard {
	admins := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	if len(admins) == 0 {
		responder.Logger.Warn("no administrator emails configured; admin routes will deny every request")
	}
	if accessLog == nil {
		accessLog = auth.NewAccessLogger(responder.Logger)
	}
	return &AdminGuard{admins: admins, responder: responder, accessLog: accessLog}
}

// IsAdmin reports whether email is on the allow-list, ignoring case
func (g *AdminGuard) IsAdmin(email string) bool {
	if email == "" {
		return false
	}
	_, ok := g.admins[strings.ToLower(email)]
	return ok
}

// Handler wraps next with the administrator check
func (g *AdminGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.FromContext(r.Context()).Identity()
		if !ok {
			g.responder.Fail(w, r, guardRequireAdmin, auth.NewGuardError(auth.CodeUnauthenticated, "Authentication required"))
			return
		}

		if !g.IsAdmin(identity.Email) {
			_ = g.accessLog.LogFromRequest(r, auth.ActionAdminAccess, auth.StatusDenied, "not an administrator")
			g.responder.Metrics.RecordGuard(guardRequireAdmin, observability.OutcomeDenied, string(auth.CodeForbidden))
			if WantsHTML(r) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(adminDeniedPage))
				return
			}
			httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeForbidden, "Administrator access required"))
			return
		}

		_ = g.accessLog.LogFromRequest(r, auth.ActionAdminAccess, auth.StatusGranted, "")
		g.responder.Allow(guardRequireAdmin)
		next.ServeHTTP(w, r)
	})
}
