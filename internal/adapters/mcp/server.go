package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
)

const (
	serverName    = "crimson-crm-registry"
	serverVersion = "1.0.0"
)

// Tools exposes the registry read model and sync control to MCP clients.
type Tools struct {
	sync   ports.RegistrySyncService
	query  ports.CompanyQueryService
	remote SyncRequester
	logger *slog.Logger
}

// SyncRequester hands a sync run off to a worker process.
type SyncRequester interface {
	TriggerSync(ctx context.Context, reason string) error
}

func NewTools(syncSvc ports.RegistrySyncService, query ports.CompanyQueryService, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{sync: syncSvc, query: query, logger: logger}
}

// WithRemoteTrigger makes start_sync ask a worker to run the sync instead of
// running it inside the MCP process.
func (t *Tools) WithRemoteTrigger(remote SyncRequester) *Tools {
	t.remote = remote
	return t
}

func (t *Tools) Server() *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("search_companies",
		mcp.WithDescription("Search cached court-registry companies by name, identifiers, NKD codes and location."),
		mcp.WithString("q", mcp.Description("Substring of company name, OIB or MBS.")),
		mcp.WithArray("nkd", mcp.Description("NKD classification codes; entries may be ';'-separated."), mcp.WithStringItems()),
		mcp.WithString("nkd_mode", mcp.Description("Relation filter for NKD codes."), mcp.Enum("any", "primary", "secondary")),
		mcp.WithString("city", mcp.Description("City substring.")),
		mcp.WithString("region", mcp.Description("Region substring matched against city, court, address and the raw document.")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows (1-100, default 20).")),
	), t.searchCompanies)

	s.AddTool(mcp.NewTool("get_company_detail",
		mcp.WithDescription("Get one cached company with its structured registry projection."),
		mcp.WithString("mbs", mcp.Required(), mcp.Description("Registry subject number.")),
	), t.getCompanyDetail)

	s.AddTool(mcp.NewTool("list_classifications",
		mcp.WithDescription("List NKD classification codes with display labels."),
		mcp.WithString("q", mcp.Description("Code or name substring.")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows (1-500, default 100).")),
	), t.listClassifications)

	s.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report registry sync progress and cache counts."),
	), t.syncStatus)

	s.AddTool(mcp.NewTool("start_sync",
		mcp.WithDescription("Start a registry sync run in the background."),
	), t.startSync)

	return s
}

func (t *Tools) searchCompanies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows, err := t.query.SearchCompanies(ctx, domain.CompanySearch{
		Query:               req.GetString("q", ""),
		ClassificationCodes: req.GetStringSlice("nkd", nil),
		ClassificationMode:  domain.ClassificationMode(req.GetString("nkd_mode", "")),
		City:                req.GetString("city", ""),
		Region:              req.GetString("region", ""),
		Limit:               req.GetInt("limit", 0),
	})
	if err != nil {
		return t.toolError("search_companies", err), nil
	}
	return jsonResult(map[string]any{"items": rows})
}

func (t *Tools) getCompanyDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mbs, err := req.RequireString("mbs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := t.query.GetCompanyDetail(ctx, mbs)
	if err != nil {
		return t.toolError("get_company_detail", err), nil
	}
	return jsonResult(detail)
}

func (t *Tools) listClassifications(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	codes, err := t.query.ListClassifications(ctx, req.GetString("q", ""), req.GetInt("limit", 0))
	if err != nil {
		return t.toolError("list_classifications", err), nil
	}
	return jsonResult(map[string]any{"items": codes})
}

func (t *Tools) syncStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := t.sync.Status(ctx)
	if err != nil {
		return t.toolError("sync_status", err), nil
	}
	return jsonResult(status)
}

func (t *Tools) startSync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.remote != nil {
		if err := t.remote.TriggerSync(ctx, "mcp"); err != nil {
			return t.toolError("start_sync", err), nil
		}
		return jsonResult(map[string]any{"requested": true})
	}
	status, err := t.sync.StartSync(ctx)
	if err != nil {
		return t.toolError("start_sync", err), nil
	}
	return jsonResult(status)
}

// toolError reports domain failures to the model as tool errors rather than
// protocol errors.
func (t *Tools) toolError(tool string, err error) *mcp.CallToolResult {
	t.logger.Warn("mcp_tool_failed", "tool", tool, "error", err)
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
