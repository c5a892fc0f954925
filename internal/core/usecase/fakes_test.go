package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

func mustNode(t *testing.T, raw string) registry.Node {
	t.Helper()
	n, err := registry.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse fixture %s: %v", raw, err)
	}
	return n
}

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

type registryClientFake struct {
	mu sync.Mutex

	authErr  error
	authGate chan struct{}

	taxonomy    []registry.Node
	taxonomyErr error

	pages   [][]registry.Node
	listErr error

	details    map[string]registry.Node
	detailErrs map[string]error

	listOffsets []int
	detailCalls []string
}

func (f *registryClientFake) Authenticate(ctx context.Context) error {
	if f.authGate != nil {
		select {
		case <-f.authGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.authErr
}

func (f *registryClientFake) ListClassifications(context.Context) ([]registry.Node, error) {
	if f.taxonomyErr != nil {
		return nil, f.taxonomyErr
	}
	return f.taxonomy, nil
}

func (f *registryClientFake) ListCompanies(_ context.Context, offset, limit int) ([]registry.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOffsets = append(f.listOffsets, offset)
	if f.listErr != nil {
		return nil, f.listErr
	}
	idx := offset / limit
	if idx >= len(f.pages) {
		return []registry.Node{}, nil
	}
	return f.pages[idx], nil
}

func (f *registryClientFake) GetCompanyDetail(_ context.Context, mbs string) (registry.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, mbs)
	if err := f.detailErrs[mbs]; err != nil {
		return registry.Null(), err
	}
	doc, ok := f.details[mbs]
	if !ok {
		return registry.Null(), domain.WrapError(domain.ErrUpstreamRequest, "get detail", &domain.UpstreamRequestError{Endpoint: "detalji_subjekta", StatusCode: 404})
	}
	return doc, nil
}

func (f *registryClientFake) calledDetails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.detailCalls...)
	sort.Strings(out)
	return out
}

type registryRepoFake struct {
	mu sync.Mutex

	companies    map[string]domain.CanonicalCompany
	associations map[string][]domain.CompanyClassification
	codes        map[string]domain.ClassificationCode

	saveErr    error
	saveErrs   map[string]error
	codeErr    error
	countsErr  error
	knownErr   error
	saveCalls  int
	lastSearch domain.CompanySearch
	searchRows []domain.CompanySummary
	codeRows   []domain.ClassificationCode
	lastLimit  int
}

func newRegistryRepoFake() *registryRepoFake {
	return &registryRepoFake{
		companies:    map[string]domain.CanonicalCompany{},
		associations: map[string][]domain.CompanyClassification{},
		codes:        map[string]domain.ClassificationCode{},
	}
}

func (f *registryRepoFake) SaveCompany(_ context.Context, company domain.CanonicalCompany, classifications []domain.CompanyClassification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	if err := f.saveErrs[company.MBS]; err != nil {
		return err
	}
	f.companies[company.MBS] = company
	f.associations[company.MBS] = append([]domain.CompanyClassification{}, classifications...)
	return nil
}

func (f *registryRepoFake) UpsertClassificationCode(_ context.Context, code domain.ClassificationCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codeErr != nil {
		return f.codeErr
	}
	f.codes[code.Code] = code
	return nil
}

func (f *registryRepoFake) ListKnownMBS(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.knownErr != nil {
		return nil, f.knownErr
	}
	out := make([]string, 0, len(f.companies))
	for mbs := range f.companies {
		out = append(out, mbs)
	}
	return out, nil
}

func (f *registryRepoFake) GetCompany(_ context.Context, mbs string) (*domain.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	company, ok := f.companies[mbs]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get company", errors.New("company not cached"))
	}
	return &company, nil
}

func (f *registryRepoFake) FindCompanyByOIB(_ context.Context, oib string) (*domain.CanonicalCompany, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, company := range f.companies {
		if company.OIB == oib {
			c := company
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *registryRepoFake) SearchCompanies(_ context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error) {
	f.lastSearch = search
	return f.searchRows, nil
}

func (f *registryRepoFake) ListClassificationCodes(_ context.Context, query string, limit int) ([]domain.ClassificationCode, error) {
	f.lastLimit = limit
	out := make([]domain.ClassificationCode, 0, len(f.codeRows))
	for _, c := range f.codeRows {
		if query == "" || strings.Contains(c.Code, query) || strings.Contains(c.Name, query) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *registryRepoFake) Counts(context.Context) (domain.RegistryCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countsErr != nil {
		return domain.RegistryCounts{}, f.countsErr
	}
	assoc := 0
	for _, rows := range f.associations {
		assoc += len(rows)
	}
	return domain.RegistryCounts{
		Companies:       len(f.companies),
		Classifications: len(f.codes),
		Associations:    assoc,
	}, nil
}

type eventPublisherFake struct {
	mu     sync.Mutex
	events []domain.SyncEvent
}

func (f *eventPublisherFake) PublishSyncEvent(_ context.Context, event domain.SyncEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type graphFake struct {
	mu        sync.Mutex
	projected map[string]int
}

func (f *graphFake) ProjectCompany(_ context.Context, company domain.CanonicalCompany, classifications []domain.CompanyClassification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.projected == nil {
		f.projected = map[string]int{}
	}
	f.projected[company.MBS] = len(classifications)
	return nil
}

type observerFake struct {
	mu        sync.Mutex
	companies map[string]int
	runs      []string
}

func (f *observerFake) ObserveCompany(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.companies == nil {
		f.companies = map[string]int{}
	}
	f.companies[outcome]++
}

func (f *observerFake) ObserveRun(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, outcome)
}

type crmStoreFake struct {
	input  domain.CRMCompanyInput
	calls  int
	result *domain.CRMImportResult
	err    error
}

func (f *crmStoreFake) ImportCompany(_ context.Context, input domain.CRMCompanyInput) (*domain.CRMImportResult, error) {
	f.calls++
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
