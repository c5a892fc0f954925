package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

const registrySchemaLockKey int64 = 2026031001

type RegistryRepository struct {
	db *sql.DB
}

func NewRegistryRepository(db *sql.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

func (r *RegistryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registrySchemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS registry_companies (
	mbs TEXT PRIMARY KEY,
	name TEXT,
	oib TEXT,
	court TEXT,
	status TEXT,
	city TEXT,
	address TEXT,
	website TEXT,
	raw_document JSONB,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_registry_companies_oib ON registry_companies(oib);
CREATE INDEX IF NOT EXISTS idx_registry_companies_updated_at ON registry_companies(updated_at DESC);

CREATE TABLE IF NOT EXISTS registry_classifications (
	code TEXT PRIMARY KEY,
	name TEXT,
	raw_document JSONB,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS registry_company_classifications (
	mbs TEXT NOT NULL REFERENCES registry_companies(mbs) ON DELETE CASCADE,
	code TEXT NOT NULL REFERENCES registry_classifications(code),
	relation_type TEXT NOT NULL,
	PRIMARY KEY (mbs, code)
);

CREATE INDEX IF NOT EXISTS idx_registry_company_classifications_code
	ON registry_company_classifications(code, relation_type);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveCompany upserts the company row and replaces its associations in one
// transaction. Codes missing from the taxonomy are seeded without a label.
func (r *RegistryRepository) SaveCompany(ctx context.Context, company domain.CanonicalCompany, classifications []domain.CompanyClassification) error {
	updatedAt := company.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save company tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO registry_companies (mbs, name, oib, court, status, city, address, website, raw_document, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (mbs) DO UPDATE SET
	name = EXCLUDED.name,
	oib = EXCLUDED.oib,
	court = EXCLUDED.court,
	status = EXCLUDED.status,
	city = EXCLUDED.city,
	address = EXCLUDED.address,
	website = EXCLUDED.website,
	raw_document = EXCLUDED.raw_document,
	updated_at = EXCLUDED.updated_at
`,
		company.MBS,
		nullableString(company.Name),
		nullableString(company.OIB),
		nullableString(company.Court),
		nullableString(company.Status),
		nullableString(company.City),
		nullableString(company.Address),
		nullableString(company.Website),
		nullableJSON(company.RawDocument),
		updatedAt,
	)
	if err != nil {
		return wrapWriteError("upsert registry company", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM registry_company_classifications WHERE mbs = $1`, company.MBS); err != nil {
		return fmt.Errorf("clear company classifications: %w", err)
	}

	for _, c := range classifications {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO registry_classifications (code, name, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (code) DO NOTHING
`, c.Code, nullableString(c.Name), updatedAt); err != nil {
			return wrapWriteError("seed classification "+c.Code, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO registry_company_classifications (mbs, code, relation_type)
VALUES ($1, $2, $3)
ON CONFLICT (mbs, code) DO UPDATE SET relation_type = EXCLUDED.relation_type
`, company.MBS, c.Code, string(c.RelationType)); err != nil {
			return wrapWriteError("insert company classification "+c.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save company tx: %w", err)
	}
	return nil
}

func (r *RegistryRepository) UpsertClassificationCode(ctx context.Context, code domain.ClassificationCode) error {
	updatedAt := code.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO registry_classifications (code, name, raw_document, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (code) DO UPDATE SET
	name = EXCLUDED.name,
	raw_document = EXCLUDED.raw_document,
	updated_at = EXCLUDED.updated_at
`, code.Code, nullableString(code.Name), nullableJSON(code.RawDocument), updatedAt)
	if err != nil {
		return fmt.Errorf("upsert classification code: %w", err)
	}
	return nil
}

func (r *RegistryRepository) ListKnownMBS(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT mbs FROM registry_companies`)
	if err != nil {
		return nil, fmt.Errorf("query known mbs: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 1024)
	for rows.Next() {
		var mbs string
		if err := rows.Scan(&mbs); err != nil {
			return nil, fmt.Errorf("scan known mbs: %w", err)
		}
		out = append(out, mbs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known mbs: %w", err)
	}
	return out, nil
}

const companyColumns = `mbs, name, oib, court, status, city, address, website, raw_document, updated_at`

func (r *RegistryRepository) GetCompany(ctx context.Context, mbs string) (*domain.CanonicalCompany, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+companyColumns+`
FROM registry_companies
WHERE mbs = $1
`, mbs)
	company, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get registry company", fmt.Errorf("mbs=%s", mbs))
		}
		return nil, fmt.Errorf("scan registry company: %w", err)
	}
	return &company, nil
}

func (r *RegistryRepository) FindCompanyByOIB(ctx context.Context, oib string) (*domain.CanonicalCompany, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+companyColumns+`
FROM registry_companies
WHERE oib = $1
ORDER BY updated_at DESC
LIMIT 1
`, oib)
	company, err := scanCompany(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "find registry company", fmt.Errorf("oib=%s", oib))
		}
		return nil, fmt.Errorf("scan registry company: %w", err)
	}
	return &company, nil
}

func (r *RegistryRepository) SearchCompanies(ctx context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error) {
	query, args := buildSearchQuery(search)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search registry companies: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CompanySummary, 0, search.Limit)
	for rows.Next() {
		var (
			s                                                domain.CompanySummary
			name, oib, court, status, city, address, website sql.NullString
		)
		if err := rows.Scan(&s.MBS, &name, &oib, &court, &status, &city, &address, &website, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan company summary: %w", err)
		}
		s.Name, s.OIB, s.Court, s.Status = name.String, oib.String, court.String, status.String
		s.City, s.Address, s.Website = city.String, address.String, website.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company summaries: %w", err)
	}
	return out, nil
}

// buildSearchQuery composes the filtered search. Classification filters use
// EXISTS so a company matching several codes is returned once.
func buildSearchQuery(search domain.CompanySearch) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if search.Query != "" {
		p := arg(likePattern(search.Query))
		conds = append(conds, fmt.Sprintf("(c.name ILIKE %[1]s OR c.oib ILIKE %[1]s OR c.mbs ILIKE %[1]s)", p))
	}
	if len(search.ClassificationCodes) > 0 {
		placeholders := make([]string, 0, len(search.ClassificationCodes))
		for _, code := range search.ClassificationCodes {
			placeholders = append(placeholders, arg(code))
		}
		cond := "EXISTS (SELECT 1 FROM registry_company_classifications cc WHERE cc.mbs = c.mbs AND cc.code IN (" +
			strings.Join(placeholders, ", ") + ")"
		switch search.ClassificationMode {
		case domain.ClassificationModePrimary:
			cond += " AND cc.relation_type = " + arg(string(domain.RelationPrimary))
		case domain.ClassificationModeSecondary:
			cond += " AND cc.relation_type = " + arg(string(domain.RelationSecondary))
		}
		conds = append(conds, cond+")")
	}
	if search.City != "" {
		conds = append(conds, "c.city ILIKE "+arg(likePattern(search.City)))
	}
	if search.Region != "" {
		p := arg(likePattern(search.Region))
		conds = append(conds, fmt.Sprintf(
			"(c.city ILIKE %[1]s OR c.court ILIKE %[1]s OR c.address ILIKE %[1]s OR c.raw_document::text ILIKE %[1]s)", p))
	}

	var b strings.Builder
	b.WriteString("SELECT c.mbs, c.name, c.oib, c.court, c.status, c.city, c.address, c.website, c.updated_at\nFROM registry_companies c")
	if len(conds) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(conds, "\n  AND "))
	}
	b.WriteString("\nORDER BY c.updated_at DESC\nLIMIT ")
	b.WriteString(arg(search.Limit))
	return b.String(), args
}

func (r *RegistryRepository) ListClassificationCodes(ctx context.Context, query string, limit int) ([]domain.ClassificationCode, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if query == "" {
		rows, err = r.db.QueryContext(ctx, `
SELECT code, name, raw_document, updated_at
FROM registry_classifications
ORDER BY code
LIMIT $1
`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT code, name, raw_document, updated_at
FROM registry_classifications
WHERE code ILIKE $1 OR name ILIKE $1
ORDER BY code
LIMIT $2
`, likePattern(query), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query classification codes: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ClassificationCode, 0, limit)
	for rows.Next() {
		var (
			c    domain.ClassificationCode
			name sql.NullString
			raw  []byte
		)
		if err := rows.Scan(&c.Code, &name, &raw, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan classification code: %w", err)
		}
		c.Name = name.String
		c.RawDocument = raw
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification codes: %w", err)
	}
	return out, nil
}

func (r *RegistryRepository) Counts(ctx context.Context) (domain.RegistryCounts, error) {
	var counts domain.RegistryCounts
	err := r.db.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM registry_companies),
	(SELECT COUNT(*) FROM registry_classifications),
	(SELECT COUNT(*) FROM registry_company_classifications)
`).Scan(&counts.Companies, &counts.Classifications, &counts.Associations)
	if err != nil {
		return domain.RegistryCounts{}, fmt.Errorf("count registry rows: %w", err)
	}
	return counts, nil
}

func scanCompany(row rowScanner) (domain.CanonicalCompany, error) {
	var (
		c                                                domain.CanonicalCompany
		name, oib, court, status, city, address, website sql.NullString
		raw                                              []byte
	)
	if err := row.Scan(&c.MBS, &name, &oib, &court, &status, &city, &address, &website, &raw, &c.UpdatedAt); err != nil {
		return domain.CanonicalCompany{}, err
	}
	c.Name, c.OIB, c.Court, c.Status = name.String, oib.String, court.String, status.String
	c.City, c.Address, c.Website = city.String, address.String, website.String
	c.RawDocument = raw
	return c, nil
}
