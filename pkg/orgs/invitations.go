package orgs

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// InvitationTTL is how long an invitation stays valid
const InvitationTTL = 7 * 24 * time.Hour

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// Invitation is a pending offer for an email address to join a company
type Invitation struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	InvitedBy string    `json:"invited_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InviteMemberRequest represents request to invite a member
type InviteMemberRequest struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Validate normalises the email and checks the role can be granted by invitation
func (r *InviteMemberRequest) Validate() error {
	addr, err := mail.ParseAddress(strings.TrimSpace(r.Email))
	if err != nil {
		return fmt.Errorf("invalid email: %s", r.Email)
	}
	r.Email = strings.ToLower(addr.Address)

	if r.Role == "" {
		r.Role = RoleMember
	}
	if r.Role != RoleAdmin && r.Role != RoleMember {
		return fmt.Errorf("role must be admin or member")
	}
	return nil
}

// CreateInvitation records an invitation. A second pending invitation for the
// same address yields a *ConflictError.
func (s *PostgresStore) CreateInvitation(ctx context.Context, companyID, invitedBy string, req *InviteMemberRequest) (*Invitation, error) {
	if req == nil {
		return nil, fmt.Errorf("invitation request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv := &Invitation{
		ID:        "inv_" + uuid.NewString(),
		CompanyID: companyID,
		Email:     req.Email,
		Role:      req.Role,
		InvitedBy: invitedBy,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO company_invitations (id, company_id, email, role, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, NOW() + $6 * INTERVAL '1 second')
		RETURNING created_at, expires_at
	`, inv.ID, inv.CompanyID, inv.Email, inv.Role, inv.InvitedBy, int64(InvitationTTL.Seconds())).
		Scan(&inv.CreatedAt, &inv.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return nil, &ConflictError{Resource: "invitation", ID: inv.Email}
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return inv, nil
}

// ListInvitations retrieves unexpired invitations of a company, newest first
func (s *PostgresStore) ListInvitations(ctx context.Context, companyID string) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, email, role, invited_by, created_at, expires_at
		FROM company_invitations
		WHERE company_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv := &Invitation{}
		if err := rows.Scan(&inv.ID, &inv.CompanyID, &inv.Email, &inv.Role, &inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}

	return invitations, nil
}
