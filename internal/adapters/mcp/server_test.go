package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

type syncFake struct {
	status   domain.SyncStatus
	startErr error
}

func (f *syncFake) StartSync(context.Context) (domain.SyncStatus, error) {
	if f.startErr != nil {
		return domain.SyncStatus{}, f.startErr
	}
	return f.status, nil
}

func (f *syncFake) Status(context.Context) (domain.SyncStatus, error) { return f.status, nil }

type queryFake struct {
	lastSearch domain.CompanySearch
	lastMBS    string
	detailErr  error
}

func (f *queryFake) SearchCompanies(_ context.Context, search domain.CompanySearch) ([]domain.CompanySummary, error) {
	f.lastSearch = search
	return []domain.CompanySummary{{MBS: "1", Name: "Alfa"}}, nil
}

func (f *queryFake) GetCompanyDetail(_ context.Context, mbs string) (*registry.CompanyDetail, error) {
	f.lastMBS = mbs
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return &registry.CompanyDetail{Company: domain.CanonicalCompany{MBS: mbs}}, nil
}

func (f *queryFake) ListClassifications(context.Context, string, int) ([]domain.ClassificationCode, error) {
	return []domain.ClassificationCode{{Code: "62.01", Name: "62.01 - Programming"}}, nil
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", res.Content[0])
		return ""
	}
}

func TestSearchCompaniesToolMapsArguments(t *testing.T) {
	query := &queryFake{}
	tools := NewTools(&syncFake{}, query, nil)

	res, err := tools.searchCompanies(context.Background(), callRequest(map[string]any{
		"q":        "alfa",
		"nkd":      []any{"62.01", "62.02"},
		"nkd_mode": "secondary",
		"limit":    float64(7),
	}))
	if err != nil {
		t.Fatalf("searchCompanies() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	want := domain.CompanySearch{
		Query:               "alfa",
		ClassificationCodes: []string{"62.01", "62.02"},
		ClassificationMode:  domain.ClassificationModeSecondary,
		Limit:               7,
	}
	if !reflect.DeepEqual(query.lastSearch, want) {
		t.Fatalf("search = %+v, want %+v", query.lastSearch, want)
	}

	var body struct {
		Items []domain.CompanySummary `json:"items"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Name != "Alfa" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestGetCompanyDetailToolRequiresMBS(t *testing.T) {
	tools := NewTools(&syncFake{}, &queryFake{}, nil)

	res, err := tools.getCompanyDetail(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("getCompanyDetail() error = %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error for missing mbs")
	}
}

func TestGetCompanyDetailToolReportsNotFound(t *testing.T) {
	query := &queryFake{detailErr: domain.WrapError(domain.ErrNotFound, "get registry company", errors.New("mbs=9"))}
	tools := NewTools(&syncFake{}, query, nil)

	res, err := tools.getCompanyDetail(context.Background(), callRequest(map[string]any{"mbs": "9"}))
	if err != nil {
		t.Fatalf("getCompanyDetail() error = %v", err)
	}
	if !res.IsError || query.lastMBS != "9" {
		t.Fatalf("expected tool error, got %+v", res)
	}
}

func TestStartSyncToolReportsConflict(t *testing.T) {
	tools := NewTools(&syncFake{startErr: domain.WrapError(domain.ErrConflict, "start sync", errors.New("sync already running"))}, &queryFake{}, nil)

	res, err := tools.startSync(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("startSync() error = %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error on conflict")
	}
}

type remoteTriggerFake struct {
	reasons []string
}

func (f *remoteTriggerFake) TriggerSync(_ context.Context, reason string) error {
	f.reasons = append(f.reasons, reason)
	return nil
}

func TestStartSyncToolDelegatesToWorker(t *testing.T) {
	syncSvc := &syncFake{startErr: errors.New("must not run locally")}
	remote := &remoteTriggerFake{}
	tools := NewTools(syncSvc, &queryFake{}, nil).WithRemoteTrigger(remote)

	res, err := tools.startSync(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("startSync() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if !reflect.DeepEqual(remote.reasons, []string{"mcp"}) {
		t.Fatalf("reasons = %v", remote.reasons)
	}
}

func TestSyncStatusToolReturnsJSON(t *testing.T) {
	tools := NewTools(&syncFake{status: domain.SyncStatus{
		SyncState: domain.SyncState{RunID: "run-7", CurrentPage: 3},
		Cached:    domain.RegistryCounts{Companies: 12},
	}}, &queryFake{}, nil)

	res, err := tools.syncStatus(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("syncStatus() error = %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &body); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if body["run_id"] != "run-7" || body["current_page"] != float64(3) {
		t.Fatalf("unexpected status: %v", body)
	}
}

func TestServerRegistersAllTools(t *testing.T) {
	s := NewTools(&syncFake{}, &queryFake{}, nil).Server()
	tools := s.ListTools()
	for _, name := range []string{"search_companies", "get_company_detail", "list_classifications", "sync_status", "start_sync"} {
		if _, ok := tools[name]; !ok {
			t.Fatalf("tool %s not registered", name)
		}
	}
}
