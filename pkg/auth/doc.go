// Package auth defines identities, sealed sessions and the per-request
// authorization context shared by the guard chain.
//
// # Overview
//
// The identity authority is consumed through the Authority interface
// (Authenticate, Refresh, Seal). Sessions travel as opaque sealed strings in
// the wos-session cookie; Sealer implements sealing with XChaCha20-Poly1305.
//
// # Request Context
//
// RequestContext is an immutable accumulator. Each guard reads the current
// value, derives a new one and stores it back:
//
//	rc := auth.FromContext(r.Context())
//	rc = rc.WithIdentity(identity, accessToken)
//	r = r.WithContext(auth.NewContext(r.Context(), rc))
//
// Company and membership are attached together by WithTenant, so no reader
// can observe one without the other.
//
// # Guard Errors
//
// Every guard failure is a *GuardError carrying a Code, the HTTP status and
// optional body fields:
//
//	err := auth.NewGuardError(auth.CodeInsufficientRole, "Insufficient role").
//		With("your_role", "member")
//
// Internal errors keep their cause for server-side logging only:
//
//	return auth.Internal(fmt.Errorf("failed to load company: %w", err))
//
// # Access Logging
//
//	accessLog := auth.NewAccessLogger(logger)
//	accessLog.LogFromRequest(r, auth.ActionAdminAccess, auth.StatusDenied, "not in allow-list")
//
// # Related Packages
//
//   - pkg/middleware: the guard chain
//   - pkg/sso: OIDC-backed Authority
//   - pkg/orgs: companies and memberships
package auth
