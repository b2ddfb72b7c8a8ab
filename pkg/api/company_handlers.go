package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// maxLookupIDs caps a single bulk lookup
const maxLookupIDs = 100

// CompanyResponse is a company as seen by one of its members
type CompanyResponse struct {
	Company    orgs.Company    `json:"company"`
	Membership orgs.Membership `json:"membership"`
}

// LookupRequest asks which of the given companies the caller belongs to
type LookupRequest struct {
	CompanyIDs []string `json:"company_ids"`
}

// LookupResult is one entry of a bulk lookup
type LookupResult struct {
	CompanyID string    `json:"company_id"`
	Member    bool      `json:"member"`
	Role      orgs.Role `json:"role,omitempty"`
	Name      string    `json:"name,omitempty"`
}

// createCompany handles POST /api/companies
func (s *Server) createCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, s.logger)
	identity, _ := auth.FromContext(ctx).Identity()

	var req orgs.CreateCompanyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	company, membership, err := s.store.CreateCompany(ctx, identity.ID, &req)
	if err != nil {
		logger.WithError(err).Error("Failed to create company")
		httputil.WriteInternalError(w)
		return
	}

	logger.WithField("company_id", company.ID).Info("Company created")
	httputil.WriteCreated(w, CompanyResponse{Company: *company, Membership: *membership})
}

// getCompany handles GET /api/companies/{companyId}
func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	rc := auth.FromContext(r.Context())
	company, ok := rc.Company()
	membership, _ := rc.Membership()
	if !ok {
		httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeMissingTenantContext, "Company context is required"))
		return
	}
	httputil.WriteSuccess(w, CompanyResponse{Company: company, Membership: membership})
}

// listMembers handles GET /api/companies/{companyId}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	company, ok := auth.FromContext(ctx).Company()
	if !ok {
		httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeMissingTenantContext, "Company context is required"))
		return
	}

	members, err := s.store.ListMembers(ctx, company.ID)
	if err != nil {
		observability.FromContext(ctx, s.logger).WithError(err).Error("Failed to list members")
		httputil.WriteInternalError(w)
		return
	}
	if members == nil {
		members = []*orgs.Membership{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// createInvitation handles POST /api/companies/{companyId}/invitations
func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx, s.logger)
	rc := auth.FromContext(ctx)
	identity, _ := rc.Identity()
	company, ok := rc.Company()
	if !ok {
		httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeMissingTenantContext, "Company context is required"))
		return
	}

	var req orgs.InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	invitation, err := s.store.CreateInvitation(ctx, company.ID, identity.ID, &req)
	if orgs.IsConflict(err) {
		httputil.WriteErrorMessage(w, http.StatusConflict, "conflict", "An invitation for this email is already pending")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to create invitation")
		httputil.WriteInternalError(w)
		return
	}

	logger.WithFields(map[string]interface{}{
		"company_id":    company.ID,
		"invitation_id": invitation.ID,
	}).Info("Invitation created")
	httputil.WriteCreated(w, invitation)
}

// listInvitations handles GET /api/companies/{companyId}/invitations
func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	company, ok := auth.FromContext(ctx).Company()
	if !ok {
		httputil.WriteGuardError(w, auth.NewGuardError(auth.CodeMissingTenantContext, "Company context is required"))
		return
	}

	invitations, err := s.store.ListInvitations(ctx, company.ID)
	if err != nil {
		observability.FromContext(ctx, s.logger).WithError(err).Error("Failed to list invitations")
		httputil.WriteInternalError(w)
		return
	}
	if invitations == nil {
		invitations = []*orgs.Invitation{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invitations": invitations})
}

// lookup handles POST /api/lookup
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.FromContext(ctx).Identity()

	var req LookupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.CompanyIDs) == 0 {
		httputil.WriteBadRequest(w, "company_ids is required")
		return
	}
	if len(req.CompanyIDs) > maxLookupIDs {
		httputil.WriteBadRequest(w, "too many company_ids")
		return
	}

	results := make([]LookupResult, 0, len(req.CompanyIDs))
	for _, id := range req.CompanyIDs {
		result := LookupResult{CompanyID: id}

		membership, err := s.store.GetMembership(ctx, id, identity.ID)
		if err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).Error("Lookup failed")
			httputil.WriteInternalError(w)
			return
		}
		// Non-members learn nothing about the company
		if membership != nil {
			company, err := s.store.GetCompany(ctx, id)
			if err != nil {
				observability.FromContext(ctx, s.logger).WithError(err).Error("Lookup failed")
				httputil.WriteInternalError(w)
				return
			}
			if company != nil {
				result.Member = true
				result.Role = membership.Role
				result.Name = company.Name
			}
		}
		results = append(results, result)
	}

	httputil.WriteSuccess(w, map[string]interface{}{"results": results})
}
