package orgs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/billing"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetCompany retrieves a company by ID. A missing row yields (nil, nil).
func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (*Company, error) {
	query := `
		SELECT id, name, subscription_id, subscription_status, agreement_signed_at, created_at, updated_at
		FROM companies
		WHERE id = $1
	`
	company := &Company{}
	var subscriptionID sql.NullString
	var status sql.NullString
	var signedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, companyID).Scan(
		&company.ID, &company.Name, &subscriptionID, &status, &signedAt,
		&company.CreatedAt, &company.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	if subscriptionID.Valid {
		company.SubscriptionID = &subscriptionID.String
	}
	if status.Valid {
		company.SubscriptionStatus = billing.SubscriptionStatus(status.String)
	}
	if signedAt.Valid {
		t := signedAt.Time
		company.AgreementSignedAt = &t
	}

	return company, nil
}

// CreateCompany creates a company and makes ownerID its owner in one transaction
func (s *PostgresStore) CreateCompany(ctx context.Context, ownerID string, req *CreateCompanyRequest) (*Company, *Membership, error) {
	if req == nil || req.Name == "" {
		return nil, nil, fmt.Errorf("company name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	company := &Company{
		ID:   "co_" + uuid.NewString(),
		Name: req.Name,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO companies (id, name)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`, company.ID, company.Name).Scan(&company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create company: %w", err)
	}

	membership := &Membership{
		CompanyID: company.ID,
		UserID:    ownerID,
		Role:      RoleOwner,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO company_memberships (company_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, membership.CompanyID, membership.UserID, membership.Role).Scan(&membership.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit company: %w", err)
	}

	return company, membership, nil
}

// Ping verifies the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
