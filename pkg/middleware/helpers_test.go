package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/billing"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

const testLoginURL = "https://app.example.com/auth/login"

var testLinks = billing.Links{
	PricingURL:   "https://app.example.com/pricing",
	ManageURL:    "https://app.example.com/billing",
	AgreementURL: "https://app.example.com/agreement",
}

// fakeAuthority maps sealed strings to principals. Refresh returns the
// configured replacement for a sealed value.
type fakeAuthority struct {
	mu           sync.Mutex
	valid        map[string]*auth.Principal
	refreshTo    map[string]string
	authErr      error
	refreshErr   error
	authCalls    int
	refreshCalls int
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{
		valid:     make(map[string]*auth.Principal),
		refreshTo: make(map[string]string),
	}
}

func (f *fakeAuthority) Authenticate(ctx context.Context, sealed string) (*auth.AuthenticateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authErr != nil {
		return nil, f.authErr
	}
	p, ok := f.valid[sealed]
	if !ok {
		return &auth.AuthenticateResult{Authenticated: false, Reason: "invalid_jwt"}, nil
	}
	return &auth.AuthenticateResult{Authenticated: true, Principal: p, AccessToken: "at:" + sealed}, nil
}

func (f *fakeAuthority) Refresh(ctx context.Context, sealed string) (*auth.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	next, ok := f.refreshTo[sealed]
	if !ok {
		return &auth.RefreshResult{Authenticated: false, Reason: "invalid_grant"}, nil
	}
	return &auth.RefreshResult{Authenticated: true, SealedSession: next}, nil
}

func (f *fakeAuthority) Seal(ctx context.Context, s *auth.Session) (string, error) {
	return "", errors.New("not supported")
}

// fakeStore is an in-memory orgs.Store
type fakeStore struct {
	companies   map[string]*orgs.Company
	memberships map[string]*orgs.Membership
	err         error
	calls       []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		companies:   make(map[string]*orgs.Company),
		memberships: make(map[string]*orgs.Membership),
	}
}

func (s *fakeStore) addMember(companyID, userID string, role orgs.Role) {
	s.memberships[companyID+"/"+userID] = &orgs.Membership{CompanyID: companyID, UserID: userID, Role: role}
}

func (s *fakeStore) GetMembership(ctx context.Context, companyID, userID string) (*orgs.Membership, error) {
	s.calls = append(s.calls, "membership")
	if s.err != nil {
		return nil, s.err
	}
	return s.memberships[companyID+"/"+userID], nil
}

func (s *fakeStore) GetCompany(ctx context.Context, companyID string) (*orgs.Company, error) {
	s.calls = append(s.calls, "company")
	if s.err != nil {
		return nil, s.err
	}
	return s.companies[companyID], nil
}

// failingCounterStore always errors
type failingCounterStore struct{}

func (failingCounterStore) Increment(ctx context.Context, key string, windowID int64, window time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func testResponder() *Responder {
	return NewResponder(testLoginURL, observability.NewNopLogger(), nil)
}

// capture records the RequestContext seen by the final handler
type capture struct {
	called bool
	rc     auth.RequestContext
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.rc = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func withIdentity(r *http.Request, id, email string) *http.Request {
	rc := auth.RequestContext{}.WithIdentity(&auth.Identity{ID: id, Email: email}, "")
	return r.WithContext(auth.NewContext(r.Context(), rc))
}

func withTenant(r *http.Request, company *orgs.Company, membership *orgs.Membership) *http.Request {
	rc, err := auth.FromContext(r.Context()).WithTenant(company, membership)
	if err != nil {
		panic(err)
	}
	return r.WithContext(auth.NewContext(r.Context(), rc))
}

func apiRequest(method, path string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set("Accept", "application/json")
	return r
}

func browserRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Accept", "text/html,application/xhtml+xml")
	return r
}

func strPtr(s string) *string { return &s }
