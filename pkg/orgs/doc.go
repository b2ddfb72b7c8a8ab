// Package orgs provides the tenant (company) and membership records the
// authorization pipeline narrows access with.
//
// # Overview
//
// A Company is the tenant. A Membership joins a user to a company with one of
// three roles: owner, admin or member. The pipeline only ever reads these
// records; writes happen through the company-creation route and out-of-band
// billing sync.
//
// # Lookup Contract
//
// Store.GetMembership and Store.GetCompany return (nil, nil) when the row does
// not exist. A non-nil error means the lookup itself failed and is reported
// by the guards as an internal error, never as "not found".
//
//	member, err := store.GetMembership(ctx, companyID, identity.ID)
//	if err != nil {
//		// 500, logged
//	}
//	if member == nil {
//		// 403, tenant existence not disclosed
//	}
//
// # Schema
//
// RunMigrations creates companies and company_memberships. Deleting a company
// cascades to its memberships.
//
// # Related Packages
//
//   - pkg/billing: Subscription status vocabulary
//   - pkg/middleware: ResolveCompanyMembership and the narrowing guards
package orgs
