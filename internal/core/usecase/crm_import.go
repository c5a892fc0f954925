package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
)

const registrySourceSudreg = "sudreg"

// CRMImportUseCase turns a cached registry company into a CRM company with
// at least one lead.
type CRMImportUseCase struct {
	repo   ports.RegistryRepository
	crm    ports.CRMStore
	logger *slog.Logger
}

func NewCRMImportUseCase(repo ports.RegistryRepository, crm ports.CRMStore, logger *slog.Logger) *CRMImportUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CRMImportUseCase{repo: repo, crm: crm, logger: logger}
}

func (uc *CRMImportUseCase) ImportCompany(ctx context.Context, req domain.CRMImportRequest) (*domain.CRMImportResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.OIB = strings.TrimSpace(req.OIB)
	req.MBS = strings.TrimSpace(req.MBS)
	req.Website = strings.TrimSpace(req.Website)
	if req.Name == "" && req.OIB == "" && req.MBS == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import company", errors.New("name, oib or mbs is required"))
	}

	cached, err := uc.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	input := domain.CRMCompanyInput{
		Name:           req.Name,
		OIB:            req.OIB,
		MBS:            req.MBS,
		Website:        req.Website,
		RegistrySource: registrySourceSudreg,
	}
	if cached != nil {
		input.Name = firstNonEmpty(req.Name, cached.Name)
		input.OIB = firstNonEmpty(cached.OIB, req.OIB)
		input.MBS = firstNonEmpty(cached.MBS, req.MBS)
		input.Website = firstNonEmpty(req.Website, cached.Website)
	}
	if input.Name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "import company", errors.New("company name could not be resolved"))
	}

	result, err := uc.crm.ImportCompany(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("import company into crm: %w", err)
	}
	uc.logger.Info("crm_company_imported",
		"company_id", result.CompanyID,
		"lead_id", result.LeadID,
		"created", result.Created,
		"mbs", input.MBS,
	)
	return result, nil
}

// resolve finds the cached registry row by MBS, then by OIB. An unknown MBS is
// an error; an unknown OIB falls back to the request data alone.
func (uc *CRMImportUseCase) resolve(ctx context.Context, req domain.CRMImportRequest) (*domain.CanonicalCompany, error) {
	if req.MBS != "" {
		company, err := uc.repo.GetCompany(ctx, req.MBS)
		if err != nil {
			return nil, fmt.Errorf("load cached company %s: %w", req.MBS, err)
		}
		return company, nil
	}
	if req.OIB == "" {
		return nil, nil
	}
	company, err := uc.repo.FindCompanyByOIB(ctx, req.OIB)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cached company by oib: %w", err)
	}
	return company, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
