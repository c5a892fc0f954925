package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

const (
	defaultSearchLimit         = 20
	maxSearchLimit             = 100
	defaultClassificationLimit = 100
	maxClassificationLimit     = 500
)

// CompanyQueryUseCase serves search and detail reads over the registry cache.
type CompanyQueryUseCase struct {
	client ports.RegistryClient
	repo   ports.RegistryRepository
	graph  ports.ClassificationGraph
	logger *slog.Logger
	now    func() time.Time

	refresh singleflight.Group
}

func NewCompanyQueryUseCase(
	client ports.RegistryClient,
	repo ports.RegistryRepository,
	graph ports.ClassificationGraph,
	logger *slog.Logger,
) *CompanyQueryUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompanyQueryUseCase{
		client: client,
		repo:   repo,
		graph:  graph,
		logger: logger,
		now:    time.Now,
	}
}

func (uc *CompanyQueryUseCase) SearchCompanies(ctx context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error) {
	search.Query = strings.TrimSpace(search.Query)
	search.City = strings.TrimSpace(search.City)
	search.Region = strings.TrimSpace(search.Region)
	search.ClassificationCodes = normalizeCodes(search.ClassificationCodes)
	search.ClassificationMode = domain.ParseClassificationMode(string(search.ClassificationMode))
	search.Limit = clampLimit(search.Limit, defaultSearchLimit, maxSearchLimit)

	rows, err := uc.repo.SearchCompanies(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("search cached companies: %w", err)
	}
	if rows == nil {
		rows = []domain.CompanySummary{}
	}
	return rows, nil
}

// GetCompanyDetail returns the cached company and its structured projection.
// A cached stub triggers one live refetch; if that fails the stub is served.
func (uc *CompanyQueryUseCase) GetCompanyDetail(ctx context.Context, mbs string) (*registry.CompanyDetail, error) {
	mbs = strings.TrimSpace(mbs)
	if mbs == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get company detail", errors.New("mbs is required"))
	}

	cached, err := uc.repo.GetCompany(ctx, mbs)
	if err != nil {
		return nil, fmt.Errorf("load cached company %s: %w", mbs, err)
	}

	company := *cached
	doc := registry.ParseOrNull(company.RawDocument)
	if !registry.HasExpandedDetail(doc) {
		if fresh, freshDoc, ok := uc.refreshDetail(ctx, company); ok {
			company, doc = fresh, freshDoc
		}
	}

	return &registry.CompanyDetail{
		Company:    company,
		Structured: registry.BuildStructured(doc),
	}, nil
}

type refreshedDetail struct {
	company domain.CanonicalCompany
	doc     registry.Node
}

func (uc *CompanyQueryUseCase) refreshDetail(ctx context.Context, cached domain.CanonicalCompany) (domain.CanonicalCompany, registry.Node, bool) {
	v, err, _ := uc.refresh.Do(cached.MBS, func() (any, error) {
		detail, err := uc.client.GetCompanyDetail(ctx, cached.MBS)
		if err != nil {
			return nil, err
		}
		company, classifications := companyFromDetail(cached.MBS, detail, cached, uc.now())
		if err := uc.repo.SaveCompany(ctx, company, classifications); err != nil {
			uc.logger.Warn("detail_refresh_save_failed", "mbs", cached.MBS, "error", err)
		} else {
			projectGraph(ctx, uc.graph, uc.logger, company, classifications)
		}
		return refreshedDetail{company: company, doc: detail}, nil
	})
	if err != nil {
		uc.logger.Warn("detail_refresh_failed", "mbs", cached.MBS, "error", err)
		return cached, registry.Null(), false
	}
	r := v.(refreshedDetail)
	return r.company, r.doc, true
}

// ListClassifications returns taxonomy entries with a readable label.
func (uc *CompanyQueryUseCase) ListClassifications(ctx context.Context, query string, limit int) ([]domain.ClassificationCode, error) {
	limit = clampLimit(limit, defaultClassificationLimit, maxClassificationLimit)
	codes, err := uc.repo.ListClassificationCodes(ctx, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, fmt.Errorf("list classification codes: %w", err)
	}
	out := make([]domain.ClassificationCode, 0, len(codes))
	for _, c := range codes {
		c.Name = registry.ClassificationLabel(c.Code, c.Name, registry.ParseOrNull(c.RawDocument))
		c.RawDocument = nil
		out = append(out, c)
	}
	return out, nil
}

func clampLimit(limit, fallback, upper int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > upper {
		return upper
	}
	return limit
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		for _, part := range strings.Split(raw, ";") {
			code := registry.NormalizeCode(part)
			if code == "" {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	return out
}
