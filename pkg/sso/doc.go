// Package sso is the OpenID Connect identity authority behind the session cookie.
//
// # Overview
//
// OIDCAuthority implements auth.Authority. Session material (access, refresh
// and ID tokens plus the user) is sealed with auth.Sealer into the wos-session
// cookie. Authenticate opens the seal, checks expiry and verifies the ID token;
// Refresh runs the refresh-token grant.
//
// # Refresh
//
// Concurrent refreshes of the same sealed value are collapsed with singleflight
// so a burst of requests carrying one expired cookie causes one provider call.
// A refresh declined by the provider (an oauth2.RetrieveError) is a false
// result; transport failures are returned as errors. Neither is retried.
//
// # Login
//
//	authority, err := sso.NewOIDCAuthority(ctx, cfg, sealer, logger, metrics)
//	handlers := sso.NewHandlers(authority, auth.DefaultCookieOptions(true), accessLog, logger)
//	handlers.RegisterRoutes(router)
//
// Routes:
//
//	GET  /auth/login?return_to=/path     - redirect to the provider
//	GET  /auth/callback                  - exchange the code, set wos-session
//	POST /auth/logout                    - clear wos-session
//
// return_to must be a relative path; anything else falls back to "/".
//
// # Native Clients
//
// A native client calls /auth/login?native=true&redirect_uri=app://auth/callback.
// The redirect URI must be listed in OIDCConfig.NativeRedirectURIs. After login
// the browser is sent to that URI with sealed_session, user_id, email,
// first_name and last_name query parameters, and no cookie is set.
package sso
