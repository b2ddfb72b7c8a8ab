package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/billing"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

const (
	guardRequireSubscription = "require_subscription"
	guardRequireAgreement    = "require_agreement"
	guardRequireRole         = "require_role"
)

// TenantGuards check billing, contract and role state of the resolved company.
// Each requires CompanyResolver to have run earlier in the chain.
type TenantGuards struct {
	links     billing.Links
	responder *Responder
}

// NewTenantGuards creates tenant guards. links fills the remediation URLs in failure bodies.
func NewTenantGuards(links billing.Links, responder *Responder) *TenantGuards {
	return &TenantGuards{links: links, responder: responder}
}

func missingTenantContext() *auth.GuardError {
	return auth.NewGuardError(auth.CodeMissingTenantContext, "Company context is required")
}

// RequireActiveSubscription allows only companies with an active or trialing subscription
func (g *TenantGuards) RequireActiveSubscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := auth.FromContext(r.Context()).Company()
		if !ok {
			g.responder.Fail(w, r, guardRequireSubscription, missingTenantContext())
			return
		}

		if !company.HasSubscription() {
			g.responder.Fail(w, r, guardRequireSubscription,
				auth.NewGuardError(auth.CodeNoSubscription, "An active subscription is required").
					With("pricing_url", g.links.PricingURL))
			return
		}

		if !company.SubscriptionStatus.Entitled() {
			g.responder.Fail(w, r, guardRequireSubscription,
				auth.NewGuardError(auth.CodeSubscriptionInactive, "Your subscription is not active").
					With("subscription_status", string(company.SubscriptionStatus)).
					With("manage_url", g.links.ManageURL))
			return
		}

		g.responder.Allow(guardRequireSubscription)
		next.ServeHTTP(w, r)
	})
}

// RequireSignedAgreement allows only companies that have signed the service agreement
func (g *TenantGuards) RequireSignedAgreement(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		company, ok := auth.FromContext(r.Context()).Company()
		if !ok {
			g.responder.Fail(w, r, guardRequireAgreement, missingTenantContext())
			return
		}

		if !company.HasSignedAgreement() {
			g.responder.Fail(w, r, guardRequireAgreement,
				auth.NewGuardError(auth.CodeAgreementNotSigned, "The service agreement must be signed").
					With("agreement_url", g.links.AgreementURL))
			return
		}

		g.responder.Allow(guardRequireAgreement)
		next.ServeHTTP(w, r)
	})
}

// RequireRole allows only members whose role is in allowed. It panics when
// allowed is empty or names an unknown role.
func (g *TenantGuards) RequireRole(allowed ...orgs.Role) func(http.Handler) http.Handler {
	if len(allowed) == 0 {
		panic("middleware: RequireRole needs at least one role")
	}
	set := make(map[orgs.Role]struct{}, len(allowed))
	names := make([]string, 0, len(allowed))
	for _, role := range allowed {
		if !role.Valid() {
			panic("middleware: RequireRole given unknown role " + string(role))
		}
		set[role] = struct{}{}
		names = append(names, string(role))
	}
	message := "This action requires one of the roles: " + strings.Join(names, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			membership, ok := auth.FromContext(r.Context()).Membership()
			if !ok {
				g.responder.Fail(w, r, guardRequireRole, missingTenantContext())
				return
			}

			if _, ok := set[membership.Role]; !ok {
				g.responder.Fail(w, r, guardRequireRole,
					auth.NewGuardError(auth.CodeInsufficientRole, message).
						With("your_role", string(membership.Role)))
				return
			}

			g.responder.Allow(guardRequireRole)
			next.ServeHTTP(w, r)
		})
	}
}
