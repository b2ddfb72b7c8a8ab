package middleware

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

const guardResolveCompany = "resolve_company"

// CompanyIDParam is both the mux path variable and the JSON body field naming the tenant
const CompanyIDParam = "companyId"

// CompanyResolver proves the caller belongs to the requested company and
// attaches the company and membership together
type CompanyResolver struct {
	store     orgs.Store
	responder *Responder
	accessLog *auth.AccessLogger
}

// NewCompanyResolver creates a company resolver. A nil accessLog writes
// through the responder's logger.
func NewCompanyResolver(store orgs.Store, responder *Responder, accessLog *auth.AccessLogger) *CompanyResolver {
	if accessLog == nil {
		accessLog = auth.NewAccessLogger(responder.Logger)
	}
	return &CompanyResolver{store: store, responder: responder, accessLog: accessLog}
}

// Handler wraps next with membership resolution
func (m *CompanyResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := auth.FromContext(ctx)

		identity, ok := rc.Identity()
		if !ok {
			m.responder.Fail(w, r, guardResolveCompany, auth.NewGuardError(auth.CodeUnauthenticated, "Authentication required"))
			return
		}

		companyID, err := tenantID(r)
		if err != nil {
			// Unreadable or oversized bodies are the caller's fault
			ge := auth.NewGuardError(auth.CodeMissingTenant, "Company ID could not be read from the request")
			ge.Cause = err
			m.responder.Fail(w, r, guardResolveCompany, ge)
			return
		}
		if companyID == "" {
			m.responder.Fail(w, r, guardResolveCompany, auth.NewGuardError(auth.CodeMissingTenant, "Company ID is required"))
			return
		}

		// Membership first: a non-member learns nothing about whether the company exists.
		membership, err := m.store.GetMembership(ctx, companyID, identity.ID)
		if err != nil {
			m.responder.Fail(w, r, guardResolveCompany, auth.Internal(fmt.Errorf("failed to load membership: %w", err)))
			return
		}
		if membership == nil {
			_ = m.accessLog.LogFromRequest(r, auth.ActionTenantAccess, auth.StatusDenied, "not a member of "+companyID)
			m.responder.Fail(w, r, guardResolveCompany, auth.NewGuardError(auth.CodeForbidden, "You do not have access to this company"))
			return
		}

		company, err := m.store.GetCompany(ctx, companyID)
		if err != nil {
			m.responder.Fail(w, r, guardResolveCompany, auth.Internal(fmt.Errorf("failed to load company: %w", err)))
			return
		}
		if company == nil {
			_ = m.accessLog.LogFromRequest(r, auth.ActionTenantAccess, auth.StatusDenied, "company "+companyID+" not found")
			m.responder.Fail(w, r, guardResolveCompany, auth.NewGuardError(auth.CodeNotFound, "Company not found"))
			return
		}

		rc, err = rc.WithTenant(company, membership)
		if err != nil {
			m.responder.Fail(w, r, guardResolveCompany, auth.Internal(err))
			return
		}

		r = r.WithContext(auth.NewContext(ctx, rc))
		_ = m.accessLog.LogFromRequest(r, auth.ActionTenantAccess, auth.StatusGranted, "")
		m.responder.Allow(guardResolveCompany)
		next.ServeHTTP(w, r)
	})
}

// tenantID reads the company id from the path, then from the JSON body
func tenantID(r *http.Request) (string, error) {
	if id := httputil.PathString(r, CompanyIDParam); id != "" {
		return id, nil
	}
	return httputil.PeekJSONString(r, CompanyIDParam)
}
