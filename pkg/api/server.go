package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// CompanyStore is the persistence the route handlers need
type CompanyStore interface {
	orgs.Store
	CreateCompany(ctx context.Context, ownerID string, req *orgs.CreateCompanyRequest) (*orgs.Company, *orgs.Membership, error)
	ListMembers(ctx context.Context, companyID string) ([]*orgs.Membership, error)
	CreateInvitation(ctx context.Context, companyID, invitedBy string, req *orgs.InviteMemberRequest) (*orgs.Invitation, error)
	ListInvitations(ctx context.Context, companyID string) ([]*orgs.Invitation, error)
}

// Guards are the authorization middlewares composed onto routes
type Guards struct {
	Session  *middleware.SessionAuth
	Company  *middleware.CompanyResolver
	Tenant   *middleware.TenantGuards
	Admin    *middleware.AdminGuard
	Limiters map[string]*middleware.FixedWindowLimiter
}

// limit returns the rate limit middleware for policy
func (g Guards) limit(policy string) func(http.Handler) http.Handler {
	if l, ok := g.Limiters[policy]; ok {
		return l.Handler
	}
	return func(next http.Handler) http.Handler { return next }
}

// Server routes API requests through the guard chains
type Server struct {
	router *mux.Router
	store  CompanyStore
	guards Guards
	logger *observability.Logger
}

// NewServer creates a new API server
func NewServer(store CompanyStore, guards Guards, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Server{
		router: mux.NewRouter(),
		store:  store,
		guards: guards,
		logger: logger,
	}

	for _, policy := range []string{
		middleware.PolicyInvitation,
		middleware.PolicyCompanyCreation,
		middleware.PolicyPublicSubmission,
		middleware.PolicyBulkLookup,
	} {
		if _, ok := guards.Limiters[policy]; !ok {
			logger.WithField("policy", policy).Warn("No rate limiter configured for policy")
		}
	}

	s.setupRoutes()
	return s
}

// chain applies guards outermost first and ends in h
func chain(h http.HandlerFunc, guards ...func(http.Handler) http.Handler) http.Handler {
	var handler http.Handler = h
	for i := len(guards) - 1; i >= 0; i-- {
		handler = guards[i](handler)
	}
	return handler
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	g := s.guards

	// Session
	s.router.Handle("/api/me", chain(s.getMe, g.Session.Authenticate)).Methods("GET")
	s.router.Handle("/api/session", chain(s.getSession, g.Session.Optional)).Methods("GET")

	// Companies
	s.router.Handle("/api/companies", chain(s.createCompany,
		g.Session.Authenticate,
		g.limit(middleware.PolicyCompanyCreation),
	)).Methods("POST")
	s.router.Handle("/api/companies/{companyId}", chain(s.getCompany,
		g.Session.Authenticate,
		g.Company.Handler,
	)).Methods("GET")
	s.router.Handle("/api/companies/{companyId}/members", chain(s.listMembers,
		g.Session.Authenticate,
		g.Company.Handler,
	)).Methods("GET")
	s.router.Handle("/api/companies/{companyId}/invitations", chain(s.createInvitation,
		g.Session.Authenticate,
		g.limit(middleware.PolicyInvitation),
		g.Company.Handler,
		g.Tenant.RequireActiveSubscription,
		g.Tenant.RequireSignedAgreement,
		g.Tenant.RequireRole(orgs.RoleOwner, orgs.RoleAdmin),
	)).Methods("POST")
	s.router.Handle("/api/companies/{companyId}/invitations", chain(s.listInvitations,
		g.Session.Authenticate,
		g.Company.Handler,
		g.Tenant.RequireRole(orgs.RoleOwner, orgs.RoleAdmin),
	)).Methods("GET")

	// Public and bulk endpoints
	s.router.Handle("/api/public/submissions", chain(s.createSubmission,
		g.Session.Optional,
		g.limit(middleware.PolicyPublicSubmission),
	)).Methods("POST")
	s.router.Handle("/api/lookup", chain(s.lookup,
		g.Session.Authenticate,
		g.limit(middleware.PolicyBulkLookup),
	)).Methods("POST")

	// Administration
	s.router.Handle("/admin", chain(s.adminHome,
		g.Session.Authenticate,
		g.Admin.Handler,
	)).Methods("GET")
}

// Router exposes the underlying router so other handlers can register on it
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Register adds another component's routes to the server
func (s *Server) Register(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
