package auth

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// RequestContext accumulates what the guard chain has established for one
// request. It is a value type: every With* returns a new copy, and the
// context only ever holds fully built values.
type RequestContext struct {
	identity    *Identity
	accessToken string
	company     *orgs.Company
	membership  *orgs.Membership
}

// FromContext returns the RequestContext stored in ctx, or the zero value
func FromContext(ctx context.Context) RequestContext {
	if rc, ok := ctx.Value(contextkeys.RequestContextKey).(RequestContext); ok {
		return rc
	}
	return RequestContext{}
}

// NewContext stores rc in ctx. The identity id is also exposed to loggers.
func NewContext(ctx context.Context, rc RequestContext) context.Context {
	ctx = contextkeys.WithRequestContext(ctx, rc)
	if rc.identity != nil {
		ctx = contextkeys.WithUserID(ctx, rc.identity.ID)
	}
	return ctx
}

// WithIdentity returns a copy carrying the authenticated identity and access token
func (rc RequestContext) WithIdentity(identity *Identity, accessToken string) RequestContext {
	if identity != nil {
		cp := *identity
		identity = &cp
	}
	rc.identity = identity
	rc.accessToken = accessToken
	return rc
}

// WithTenant returns a copy carrying both the company and the caller's membership.
// It rejects a pair that does not describe the same tenant.
func (rc RequestContext) WithTenant(company *orgs.Company, membership *orgs.Membership) (RequestContext, error) {
	if company == nil || membership == nil {
		return rc, fmt.Errorf("company and membership must be attached together")
	}
	if company.ID != membership.CompanyID {
		return rc, fmt.Errorf("membership for company %s does not match company %s", membership.CompanyID, company.ID)
	}
	if rc.identity != nil && membership.UserID != rc.identity.ID {
		return rc, fmt.Errorf("membership user %s does not match identity %s", membership.UserID, rc.identity.ID)
	}

	c := *company
	m := *membership
	rc.company = &c
	rc.membership = &m
	return rc, nil
}

// Identity returns the authenticated identity, if any
func (rc RequestContext) Identity() (Identity, bool) {
	if rc.identity == nil {
		return Identity{}, false
	}
	return *rc.identity, true
}

// Authenticated reports whether an identity is attached
func (rc RequestContext) Authenticated() bool {
	return rc.identity != nil
}

// AccessToken returns the bearer token attached alongside the identity
func (rc RequestContext) AccessToken() string {
	return rc.accessToken
}

// Company returns the resolved company, if any
func (rc RequestContext) Company() (orgs.Company, bool) {
	if rc.company == nil {
		return orgs.Company{}, false
	}
	return *rc.company, true
}

// Membership returns the caller's membership in the resolved company, if any
func (rc RequestContext) Membership() (orgs.Membership, bool) {
	if rc.membership == nil {
		return orgs.Membership{}, false
	}
	return *rc.membership, true
}
