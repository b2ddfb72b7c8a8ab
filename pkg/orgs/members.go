package orgs

import (
	"context"
	"database/sql"
	"fmt"
)

// GetMembership retrieves the membership joining userID to companyID.
// A missing row yields (nil, nil).
func (s *PostgresStore) GetMembership(ctx context.Context, companyID, userID string) (*Membership, error) {
	query := `
		SELECT company_id, user_id, role, created_at
		FROM company_memberships
		WHERE company_id = $1 AND user_id = $2
	`
	member := &Membership{}
	err := s.db.QueryRowContext(ctx, query, companyID, userID).Scan(
		&member.CompanyID, &member.UserID, &member.Role, &member.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return member, nil
}

// ListMembers retrieves all memberships of a company, oldest first
func (s *PostgresStore) ListMembers(ctx context.Context, companyID string) ([]*Membership, error) {
	query := `
		SELECT company_id, user_id, role, created_at
		FROM company_memberships
		WHERE company_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		member := &Membership{}
		if err := rows.Scan(&member.CompanyID, &member.UserID, &member.Role, &member.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return members, nil
}

// UpdateMemberRole updates a member's role
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, companyID, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %s", role)
	}

	query := `UPDATE company_memberships SET role = $1 WHERE company_id = $2 AND user_id = $3`
	result, err := s.db.ExecContext(ctx, query, role, companyID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &NotFoundError{Resource: "membership", ID: companyID + "/" + userID}
	}

	return nil
}
