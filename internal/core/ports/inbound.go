package ports

import (
	"context"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

// RegistrySyncService is the inbound contract for the registry synchronization job.
type RegistrySyncService interface {
	StartSync(ctx context.Context) (domain.SyncStatus, error)
	Status(ctx context.Context) (domain.SyncStatus, error)
}

// CompanyQueryService is the inbound read model over the registry cache.
type CompanyQueryService interface {
	SearchCompanies(ctx context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error)
	GetCompanyDetail(ctx context.Context, mbs string) (*registry.CompanyDetail, error)
	ListClassifications(ctx context.Context, query string, limit int) ([]domain.ClassificationCode, error)
}

// CRMImporter materializes a cached registry company in the CRM.
type CRMImporter interface {
	ImportCompany(ctx context.Context, req domain.CRMImportRequest) (*domain.CRMImportResult, error)
}
