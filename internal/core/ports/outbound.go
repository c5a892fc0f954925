package ports

import (
	"context"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

// RegistryClient talks to the upstream business registry. List calls return
// records already extracted from their response envelope.
type RegistryClient interface {
	Authenticate(ctx context.Context) error
	ListClassifications(ctx context.Context) ([]registry.Node, error)
	ListCompanies(ctx context.Context, offset, limit int) ([]registry.Node, error)
	GetCompanyDetail(ctx context.Context, mbs string) (registry.Node, error)
}

// RegistryRepository is the durable registry cache.
type RegistryRepository interface {
	// SaveCompany upserts the company row and replaces its classification
	// associations in one transaction.
	SaveCompany(ctx context.Context, company domain.CanonicalCompany, classifications []domain.CompanyClassification) error
	UpsertClassificationCode(ctx context.Context, code domain.ClassificationCode) error
	ListKnownMBS(ctx context.Context) ([]string, error)
	GetCompany(ctx context.Context, mbs string) (*domain.CanonicalCompany, error)
	FindCompanyByOIB(ctx context.Context, oib string) (*domain.CanonicalCompany, error)
	SearchCompanies(ctx context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error)
	ListClassificationCodes(ctx context.Context, query string, limit int) ([]domain.ClassificationCode, error)
	Counts(ctx context.Context) (domain.RegistryCounts, error)
}

// CRMStore is the CRM-side company and lead store.
type CRMStore interface {
	ImportCompany(ctx context.Context, input domain.CRMCompanyInput) (*domain.CRMImportResult, error)
}
