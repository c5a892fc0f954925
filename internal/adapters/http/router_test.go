package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/crimson-crm/internal/config"
	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/crimson-crm/internal/observability/metrics"
)

func serve(t *testing.T, handler http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestStartSyncReturns202(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.sync.status = domain.SyncStatus{SyncState: domain.SyncState{RunID: "run-1"}}

	res := serve(t, mustHandler(rt), http.MethodPost, "/v1/registry/sync", nil)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["running"] != true || body["run_id"] != "run-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if deps.sync.started != 1 {
		t.Fatalf("expected one start call, got %d", deps.sync.started)
	}
}

func TestStartSyncConflictReturns409(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.sync.startErr = domain.WrapError(domain.ErrConflict, "start sync", errors.New("sync already running"))

	res := serve(t, mustHandler(rt), http.MethodPost, "/v1/registry/sync", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestSearchBindsQueryParameters(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.query.rows = []domain.CompanySummary{{MBS: "1", Name: "Alfa"}}

	res := serve(t, mustHandler(rt), http.MethodGet,
		"/v1/registry/companies?q=alfa&nkd=62.01&nkd=62.02;63.11&nkd_mode=primary&city=Split&region=Dalmacija&limit=5", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	want := domain.CompanySearch{
		Query:               "alfa",
		ClassificationCodes: []string{"62.01", "62.02;63.11"},
		ClassificationMode:  domain.ClassificationModePrimary,
		City:                "Split",
		Region:              "Dalmacija",
		Limit:               5,
	}
	if !reflect.DeepEqual(deps.query.lastSearch, want) {
		t.Fatalf("search = %+v, want %+v", deps.query.lastSearch, want)
	}

	var body struct {
		Items []domain.CompanySummary `json:"items"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Name != "Alfa" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestSearchRejectsInvalidParameters(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})
	handler := mustHandler(rt)

	for _, target := range []string{
		"/v1/registry/companies?nkd_mode=tertiary",
		"/v1/registry/companies?limit=many",
	} {
		res := serve(t, handler, http.MethodGet, target, nil)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, res.Code)
		}
	}
}

func TestSearchZeroLimitFallsBackToDefault(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})

	res := serve(t, mustHandler(rt), http.MethodGet, "/v1/registry/companies?limit=0", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if deps.query.lastSearch.Limit != 0 {
		t.Fatalf("limit = %d, want 0 passed through for clamping", deps.query.lastSearch.Limit)
	}
}

func TestCompanyDetailNotFoundReturns404(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.query.detailErr = domain.WrapError(domain.ErrNotFound, "get registry company", errors.New("mbs=404"))

	res := serve(t, mustHandler(rt), http.MethodGet, "/v1/registry/companies/404", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if deps.query.lastMBS != "404" {
		t.Fatalf("unexpected mbs %q", deps.query.lastMBS)
	}
}

func TestCompanyDetailReturnsStructuredProjection(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	doc, err := registry.Parse([]byte(`{"mbs":"080000001","oib":"12345678901"}`))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	deps.query.detail = &registry.CompanyDetail{
		Company:    domain.CanonicalCompany{MBS: "080000001", Name: "Primjer"},
		Structured: registry.BuildStructured(doc),
	}

	res := serve(t, mustHandler(rt), http.MethodGet, "/v1/registry/companies/080000001", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["company"]; !ok {
		t.Fatalf("missing company in %s", res.Body.String())
	}
	if _, ok := body["structured"]; !ok {
		t.Fatalf("missing structured in %s", res.Body.String())
	}
}

func TestExportReturnsWorkbook(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.query.rows = []domain.CompanySummary{
		{MBS: "080000001", Name: "Primjer", UpdatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	res := serve(t, mustHandler(rt), http.MethodGet, "/v1/registry/companies/export.xlsx?city=Zagreb", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); ct != xlsx.ContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if deps.query.lastSearch.City != "Zagreb" {
		t.Fatalf("export should reuse search filters, got %+v", deps.query.lastSearch)
	}

	f, err := excelize.OpenReader(bytes.NewReader(res.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Companies")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "080000001" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestListClassificationsPassesQueryAndLimit(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.query.codes = []domain.ClassificationCode{{Code: "62.01", Name: "62.01 - Programming"}}

	res := serve(t, mustHandler(rt), http.MethodGet, "/v1/registry/classifications?q=62&limit=10", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if deps.query.lastQuery != "62" || deps.query.lastLimit != 10 {
		t.Fatalf("unexpected args %q %d", deps.query.lastQuery, deps.query.lastLimit)
	}
	if !strings.Contains(res.Body.String(), "62.01 - Programming") {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestImportCompany(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.importer.result = &domain.CRMImportResult{CompanyID: 3, LeadID: 9, Created: true}

	res := serve(t, mustHandler(rt), http.MethodPost, "/v1/registry/import", strings.NewReader(`{"mbs":"080000001"}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if deps.importer.last.MBS != "080000001" {
		t.Fatalf("unexpected request: %+v", deps.importer.last)
	}
	var body domain.CRMImportResult
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body != *deps.importer.result {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestImportCompanyRejectsMalformedBody(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})

	res := serve(t, mustHandler(rt), http.MethodPost, "/v1/registry/import", strings.NewReader(`{"mbs":`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestImportCompanyMapsDomainErrors(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.importer.err = domain.WrapError(domain.ErrInvalidInput, "import company", errors.New("name, oib or mbs is required"))

	res := serve(t, mustHandler(rt), http.MethodPost, "/v1/registry/import", strings.NewReader(`{}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrNotFound, "op", errors.New("x")), http.StatusNotFound},
		{domain.WrapError(domain.ErrConflict, "op", errors.New("x")), http.StatusConflict},
		{domain.WrapError(domain.ErrConfiguration, "op", errors.New("x")), http.StatusServiceUnavailable},
		{domain.WrapError(domain.ErrTemporary, "op", &domain.UpstreamRequestError{StatusCode: 503}), http.StatusServiceUnavailable},
		{&domain.UpstreamRequestError{Endpoint: "/subjekti", StatusCode: 500}, http.StatusBadGateway},
		{domain.WrapError(domain.ErrUpstreamAuth, "op", errors.New("x")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	rt, deps := newTestRouter(config.Config{})
	deps.importer.err = errors.New("pq: password authentication failed")

	res := serve(t, mustHandler(rt), http.MethodPost, "/v1/registry/import", strings.NewReader(`{"name":"x"}`))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "password") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}

func TestMetricsEndpointServesMergedRegistries(t *testing.T) {
	rt, _ := newTestRouter(config.Config{})
	syncMetrics := metrics.NewSyncMetrics(serviceName)
	syncMetrics.ObserveRun("success", time.Second)
	handler := mustHandler(rt.WithMetrics(metrics.NewHTTPServerMetrics(serviceName), syncMetrics.Gatherer()))

	serve(t, handler, http.MethodGet, "/healthz", nil)
	res := serve(t, handler, http.MethodGet, "/metrics", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	text := res.Body.String()
	if !strings.Contains(text, "crimson_http_requests_total") || !strings.Contains(text, "crimson_sync_runs_total") {
		t.Fatalf("unexpected metrics output:\n%s", text)
	}
}
