// Package api wires the HTTP routes to their guard chains.
//
// Every route composes the guards from pkg/middleware in a fixed order, for
// example the invitation endpoint:
//
//	Authenticate -> rate limit(invitation) -> resolve company ->
//	active subscription -> signed agreement -> role(owner, admin)
//
// Handlers read what the guards established from auth.FromContext and never
// repeat the checks themselves.
package api
