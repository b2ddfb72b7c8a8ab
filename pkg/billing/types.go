package billing

// SubscriptionStatus represents the status of a subscription as reported by
// the payment provider
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// Entitled reports whether the status grants access to paid features.
// Only active and trialing subscriptions qualify; every other value,
// including unknown ones, does not.
func (s SubscriptionStatus) Entitled() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// Known reports whether the status is one the payment provider documents
func (s SubscriptionStatus) Known() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusUnpaid, SubscriptionStatusPaused:
		return true
	}
	return false
}

// Links holds the remediation URLs returned to clients whose tenant is not
// entitled. Guards echo them so the client can branch without hardcoding.
type Links struct {
	PricingURL   string `json:"pricing_url" yaml:"pricing_url"`
	ManageURL    string `json:"manage_url" yaml:"manage_url"`
	AgreementURL string `json:"agreement_url" yaml:"agreement_url"`
}
