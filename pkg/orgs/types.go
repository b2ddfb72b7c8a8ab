package orgs

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/billing"
)

// Role represents a member's role within a company
type Role string

const (
	RoleOwner  Role = "owner"  // Created the company, full control including billing
	RoleAdmin  Role = "admin"  // Manages members and settings
	RoleMember Role = "member" // Regular access
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Company is the tenant. Billing and agreement state are mirrored here and
// are read-only from the authorization pipeline's point of view.
type Company struct {
	ID                 string                     `json:"id"`
	Name               string                     `json:"name"`
	SubscriptionID     *string                    `json:"subscription_id,omitempty"`
	SubscriptionStatus billing.SubscriptionStatus `json:"subscription_status,omitempty"`
	AgreementSignedAt  *time.Time                 `json:"agreement_signed_at,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// HasSubscription reports whether a subscription id is recorded
func (c *Company) HasSubscription() bool {
	return c.SubscriptionID != nil && *c.SubscriptionID != ""
}

// HasSignedAgreement reports whether an agreement signature is recorded
func (c *Company) HasSignedAgreement() bool {
	return c.AgreementSignedAt != nil
}

// Membership is the join record proving a user may act within a company
type Membership struct {
	CompanyID string    `json:"company_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateCompanyRequest represents request to create a company
type CreateCompanyRequest struct {
	Name string `json:"name"`
}

// Store is the lookup capability the authorization pipeline depends on.
// Both methods return (nil, nil) when the row does not exist; a non-nil
// error always means the lookup itself failed.
type Store interface {
	GetMembership(ctx context.Context, companyID, userID string) (*Membership, error)
	GetCompany(ctx context.Context, companyID string) (*Company, error)
}

// NotFoundError represents a missing row on a write path
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// ConflictError represents a write rejected by a uniqueness constraint
type ConflictError struct {
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return e.Resource + " already exists: " + e.ID
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
