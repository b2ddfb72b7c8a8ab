// Package middleware provides the authorization guard chain and rate limiting.
//
// # Overview
//
// Every guard is a func(http.Handler) http.Handler that either calls the next
// handler or terminates the exchange with a status and a JSON body carrying
// "error" and "message". Guards share state only through auth.RequestContext.
//
// # Guard Chain
//
//	responder := middleware.NewResponder(cfg.Links.LoginURL, logger, metrics)
//	sessions := middleware.NewSessionAuth(authority, cookieOpts, responder, accessLog)
//	companies := middleware.NewCompanyResolver(store, responder, accessLog)
//	tenant := middleware.NewTenantGuards(cfg.Links, responder)
//
//	router.Handle("/api/companies/{companyId}/invitations", httputil.Chain(
//		sessions.Authenticate,
//		limiters[middleware.PolicyInvitation].Handler,
//		companies.Handler,
//		tenant.RequireActiveSubscription,
//		tenant.RequireSignedAgreement,
//		tenant.RequireRole(orgs.RoleOwner, orgs.RoleAdmin),
//	)(handler))
//
// SessionAuth.Authenticate refreshes an invalid session at most once and
// rewrites the wos-session cookie only when the refreshed session validates.
// SessionAuth.Optional never aborts.
//
// Authentication failures are presented as a 302 to the login URL for browser
// navigations (Accept: text/html outside /api/) and as 401 with login_url
// otherwise.
//
// # Rate Limiting
//
// RateLimitKey buckets by identity id, falling back to the client address
// with IPv6 collapsed to its /64. FixedWindowLimiter counts per
// (policy, key, window) through a CounterStore:
//
//	store := middleware.NewRedisCounterStore(redisClient)   // shared
//	store := middleware.NewMemoryCounterStore()             // single instance
//
// Defaults: invitation 10/h, company_creation 5/h, public_submission 5/15m,
// bulk_lookup 30/min. Store failures fail open unless SetFallbackEnabled(false).
//
// # Related Packages
//
//   - pkg/auth: RequestContext, Authority and guard errors
//   - pkg/orgs: membership lookups
//   - pkg/sso: the OIDC Authority
package middleware
