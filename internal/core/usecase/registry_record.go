package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

// companyFromDetail maps a detail document onto the cache row for mbs. Fields
// missing from the detail are taken from fallback.
func companyFromDetail(mbs string, detail registry.Node, fallback domain.CanonicalCompany, now time.Time) (domain.CanonicalCompany, []domain.CompanyClassification) {
	company := registry.MergeCanonical(registry.MapToCanonical(detail), fallback)
	company.MBS = mbs
	company.RawDocument = rawDocument(detail)
	company.UpdatedAt = now
	return company, toAssociations(mbs, registry.ExtractClassifications(detail))
}

func toAssociations(mbs string, found []registry.Classification) []domain.CompanyClassification {
	out := make([]domain.CompanyClassification, 0, len(found))
	for _, c := range found {
		out = append(out, domain.CompanyClassification{
			MBS:          mbs,
			Code:         c.Code,
			Name:         c.Name,
			RelationType: c.RelationType,
		})
	}
	return out
}

func rawDocument(n registry.Node) json.RawMessage {
	raw, err := n.MarshalJSON()
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

func projectGraph(
	ctx context.Context,
	graph ports.ClassificationGraph,
	logger *slog.Logger,
	company domain.CanonicalCompany,
	classifications []domain.CompanyClassification,
) {
	if graph == nil {
		return
	}
	if err := graph.ProjectCompany(ctx, company, classifications); err != nil {
		logger.Warn("graph_projection_failed", "mbs", company.MBS, "error", err)
	}
}

func stringPtr(s string) *string {
	return &s
}
