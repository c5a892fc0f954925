package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/crimson-crm/internal/config"
	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/crimson-crm/internal/observability/metrics"
)

const (
	serviceName          = "api"
	backpressureWait     = 100 * time.Millisecond
	maxImportBodyBytes   = 64 << 10
	exportFilename       = "companies.xlsx"
	internalErrorMessage = "internal server error"
)

type CompanyExporter interface {
	WriteCompanies(w io.Writer, rows []domain.CompanySummary) error
}

type Router struct {
	cfg      config.Config
	sync     ports.RegistrySyncService
	query    ports.CompanyQueryService
	importer ports.CRMImporter
	exporter CompanyExporter
	logger   *slog.Logger

	metrics   *metrics.HTTPServerMetrics
	gatherers []prometheus.Gatherer
}

func NewRouter(
	cfg config.Config,
	syncSvc ports.RegistrySyncService,
	query ports.CompanyQueryService,
	importer ports.CRMImporter,
	exporter CompanyExporter,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		sync:     syncSvc,
		query:    query,
		importer: importer,
		exporter: exporter,
		logger:   logger,
	}
}

// WithMetrics instruments the handler and serves /metrics, merging in extra
// gatherers such as the sync metrics registry.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics, extra ...prometheus.Gatherer) *Router {
	rt.metrics = m
	rt.gatherers = extra
	return rt
}

// Handler builds the full middleware chain. It fails only if the embedded
// OpenAPI document is invalid.
func (rt *Router) Handler() (http.Handler, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/registry/sync", rt.startSync)
	mux.HandleFunc("GET /v1/registry/sync", rt.syncStatus)
	mux.HandleFunc("GET /v1/registry/companies", rt.searchCompanies)
	mux.HandleFunc("GET /v1/registry/companies/export.xlsx", rt.exportCompanies)
	mux.HandleFunc("GET /v1/registry/companies/{mbs}", rt.getCompanyDetail)
	mux.HandleFunc("GET /v1/registry/classifications", rt.listClassifications)
	mux.HandleFunc("POST /v1/registry/import", rt.importCompany)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler(rt.gatherers...))
	}

	var handler http.Handler = mux
	handler = validator.Middleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	handler = requestIDMiddleware(handler)
	return handler, nil
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) startSync(w http.ResponseWriter, r *http.Request) {
	status, err := rt.sync.StartSync(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (rt *Router) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.sync.Status(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) searchCompanies(w http.ResponseWriter, r *http.Request) {
	rows, err := rt.runSearch(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (rt *Router) exportCompanies(w http.ResponseWriter, r *http.Request) {
	rows, err := rt.runSearch(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	// Render fully before writing headers so a failure still maps to JSON.
	var buf bytes.Buffer
	if err := rt.exporter.WriteCompanies(&buf, rows); err != nil {
		rt.writeError(w, r, fmt.Errorf("export companies: %w", err))
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordExport(len(rows))
	}

	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) runSearch(r *http.Request) ([]domain.CompanySummary, error) {
	search, err := bindCompanySearch(r)
	if err != nil {
		return nil, err
	}
	return rt.query.SearchCompanies(r.Context(), search)
}

func (rt *Router) getCompanyDetail(w http.ResponseWriter, r *http.Request) {
	var mbs string
	err := runtime.BindStyledParameterWithOptions("simple", "mbs", r.PathValue("mbs"), &mbs, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind mbs", err))
		return
	}

	detail, err := rt.query.GetCompanyDetail(r.Context(), mbs)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (rt *Router) listClassifications(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Q     *string
		Limit *int
	}
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "q", query, &params.Q); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind q", err))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "bind limit", err))
		return
	}

	codes, err := rt.query.ListClassifications(r.Context(), deref(params.Q), deref(params.Limit))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": codes})
}

func (rt *Router) importCompany(w http.ResponseWriter, r *http.Request) {
	var req domain.CRMImportRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxImportBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.importer.ImportCompany(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = internalErrorMessage
	}
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
