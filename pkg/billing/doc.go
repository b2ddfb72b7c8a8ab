// Package billing holds the subscription vocabulary shared by the tenant
// store and the authorization guards.
//
// # Overview
//
// Billing state is owned by the payment provider and mirrored onto the
// company row. This package never talks to the provider; it only interprets
// the mirrored status.
//
// # Entitlement
//
// A tenant is entitled to paid features while its subscription status is
// active or trialing:
//
//	if !company.SubscriptionStatus.Entitled() {
//		// 402 Payment Required, echo the raw status
//	}
//
// # Remediation Links
//
// Links carries the pricing, manage-billing and agreement URLs that guards
// attach to 402/403 responses.
//
// # Related Packages
//
//   - pkg/orgs: Company records carrying the mirrored status
//   - pkg/middleware: RequireActiveSubscription, RequireSignedAgreement
package billing
