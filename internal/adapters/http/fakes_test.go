package httpadapter

import (
	"context"
	"net/http"
	"sync"

	"github.com/kirillkom/crimson-crm/internal/config"
	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/export/xlsx"
)

type syncServiceFake struct {
	status   domain.SyncStatus
	startErr error
	started  int
}

func (f *syncServiceFake) StartSync(context.Context) (domain.SyncStatus, error) {
	if f.startErr != nil {
		return domain.SyncStatus{}, f.startErr
	}
	f.started++
	status := f.status
	status.Running = true
	return status, nil
}

func (f *syncServiceFake) Status(context.Context) (domain.SyncStatus, error) {
	return f.status, nil
}

type queryServiceFake struct {
	mu         sync.Mutex
	rows       []domain.CompanySummary
	lastSearch domain.CompanySearch
	detail     *registry.CompanyDetail
	detailErr  error
	lastMBS    string
	codes      []domain.ClassificationCode
	lastQuery  string
	lastLimit  int
}

func (f *queryServiceFake) SearchCompanies(_ context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSearch = search
	return f.rows, nil
}

func (f *queryServiceFake) GetCompanyDetail(_ context.Context, mbs string) (*registry.CompanyDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMBS = mbs
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detail, nil
}

func (f *queryServiceFake) ListClassifications(_ context.Context, query string, limit int) ([]domain.ClassificationCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery, f.lastLimit = query, limit
	return f.codes, nil
}

type importerFake struct {
	last   domain.CRMImportRequest
	result *domain.CRMImportResult
	err    error
}

func (f *importerFake) ImportCompany(_ context.Context, req domain.CRMImportRequest) (*domain.CRMImportResult, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testDeps struct {
	sync     *syncServiceFake
	query    *queryServiceFake
	importer *importerFake
}

func newTestRouter(cfg config.Config) (*Router, *testDeps) {
	deps := &testDeps{
		sync:     &syncServiceFake{},
		query:    &queryServiceFake{},
		importer: &importerFake{},
	}
	return NewRouter(cfg, deps.sync, deps.query, deps.importer, xlsx.NewExporter(), nil), deps
}

func mustHandler(rt *Router) http.Handler {
	handler, err := rt.Handler()
	if err != nil {
		panic(err)
	}
	return handler
}
