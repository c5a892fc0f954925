package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

const crmSchemaLockKey int64 = 2026031002

const defaultLeadStatus = "New"

// CRMRepository owns the companies and leads tables the registry import
// writes into.
type CRMRepository struct {
	db *sql.DB
}

func NewCRMRepository(db *sql.DB) *CRMRepository {
	return &CRMRepository{db: db}
}

func (r *CRMRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, crmSchemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS companies (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	website TEXT,
	oib TEXT,
	mbs TEXT,
	registry_source TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_companies_oib ON companies(oib);

CREATE TABLE IF NOT EXISTS leads (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	company_id BIGINT REFERENCES companies(id) ON DELETE SET NULL,
	company TEXT,
	status TEXT NOT NULL DEFAULT 'New',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_leads_company_id ON leads(company_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// ImportCompany finds the CRM company by OIB, then by name, and either fills
// in its registry fields or creates it. The company always ends up with at
// least one lead.
func (r *CRMRepository) ImportCompany(ctx context.Context, in domain.CRMCompanyInput) (*domain.CRMImportResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin crm import tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	companyID, found, err := findCRMCompany(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	result := &domain.CRMImportResult{}
	if found {
		_, err = tx.ExecContext(ctx, `
UPDATE companies
SET website = COALESCE($2, website),
	oib = COALESCE($3, oib),
	mbs = COALESCE($4, mbs),
	registry_source = $5
WHERE id = $1
`, companyID, nullableString(in.Website), nullableString(in.OIB), nullableString(in.MBS), in.RegistrySource)
		if err != nil {
			return nil, wrapWriteError("update crm company", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
INSERT INTO companies (name, website, oib, mbs, registry_source)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, in.Name, nullableString(in.Website), nullableString(in.OIB), nullableString(in.MBS), in.RegistrySource).Scan(&companyID)
		if err != nil {
			return nil, wrapWriteError("insert crm company", err)
		}
		result.Created = true
	}
	result.CompanyID = companyID

	leadID, err := ensureLead(ctx, tx, companyID, in.Name)
	if err != nil {
		return nil, err
	}
	result.LeadID = leadID

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit crm import tx: %w", err)
	}
	return result, nil
}

func findCRMCompany(ctx context.Context, tx *sql.Tx, in domain.CRMCompanyInput) (int64, bool, error) {
	var id int64
	if in.OIB != "" {
		err := tx.QueryRowContext(ctx, `SELECT id FROM companies WHERE oib = $1 ORDER BY id LIMIT 1 FOR UPDATE`, in.OIB).Scan(&id)
		switch {
		case err == nil:
			return id, true, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("find crm company by oib: %w", err)
		}
	}

	err := tx.QueryRowContext(ctx, `SELECT id FROM companies WHERE name = $1 FOR UPDATE`, in.Name).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("find crm company by name: %w", err)
	}
}

func ensureLead(ctx context.Context, tx *sql.Tx, companyID int64, companyName string) (int64, error) {
	var leadID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM leads WHERE company_id = $1 ORDER BY id LIMIT 1`, companyID).Scan(&leadID)
	if err == nil {
		return leadID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("find crm lead: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
INSERT INTO leads (name, company_id, company, status)
VALUES ($1, $2, $3, $4)
RETURNING id
`, companyName, companyID, companyName, defaultLeadStatus).Scan(&leadID)
	if err != nil {
		return 0, fmt.Errorf("insert crm lead: %w", err)
	}
	return leadID, nil
}
