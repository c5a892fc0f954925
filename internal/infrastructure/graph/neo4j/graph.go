package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

const projectCompanyCypher = `
MERGE (c:Company {mbs: $mbs})
SET c.name = $name, c.oib = $oib, c.city = $city, c.updated_at = $updated_at
WITH c
OPTIONAL MATCH (c)-[old:CLASSIFIED_AS]->()
DELETE old
WITH DISTINCT c
UNWIND $classifications AS cls
MERGE (k:Classification {code: cls.code})
ON CREATE SET k.name = cls.name
MERGE (c)-[rel:CLASSIFIED_AS]->(k)
SET rel.relation_type = cls.relation_type
`

var constraintStatements = []string{
	`CREATE CONSTRAINT company_mbs IF NOT EXISTS FOR (c:Company) REQUIRE c.mbs IS UNIQUE`,
	`CREATE CONSTRAINT classification_code IF NOT EXISTS FOR (k:Classification) REQUIRE k.code IS UNIQUE`,
}

type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

type queryRunner func(ctx context.Context, cypher string, params map[string]any) error

// ClassificationGraph mirrors company classifications as
// (:Company)-[:CLASSIFIED_AS]->(:Classification).
type ClassificationGraph struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	logger  *slog.Logger
	run     queryRunner
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*ClassificationGraph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &ClassificationGraph{driver: driver, timeout: timeout, logger: logger}
	g.run = func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(cfg.Database),
			neo4j.ExecuteQueryWithWritersRouting(),
		)
		return err
	}
	return g, nil
}

func (g *ClassificationGraph) EnsureConstraints(ctx context.Context) error {
	for _, stmt := range constraintStatements {
		if err := g.exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("create graph constraint: %w", err)
		}
	}
	return nil
}

// ProjectCompany replaces the company's outgoing classification edges.
func (g *ClassificationGraph) ProjectCompany(
	ctx context.Context,
	company domain.CanonicalCompany,
	classifications []domain.CompanyClassification,
) error {
	if err := g.exec(ctx, projectCompanyCypher, companyParams(company, classifications)); err != nil {
		return fmt.Errorf("project company %s: %w", company.MBS, err)
	}
	return nil
}

func (g *ClassificationGraph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}

func (g *ClassificationGraph) exec(ctx context.Context, cypher string, params map[string]any) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.run(ctx, cypher, params)
}

func companyParams(company domain.CanonicalCompany, classifications []domain.CompanyClassification) map[string]any {
	rels := make([]map[string]any, 0, len(classifications))
	for _, c := range classifications {
		rels = append(rels, map[string]any{
			"code":          c.Code,
			"name":          c.Name,
			"relation_type": string(c.RelationType),
		})
	}
	return map[string]any{
		"mbs":             company.MBS,
		"name":            company.Name,
		"oib":             company.OIB,
		"city":            company.City,
		"updated_at":      company.UpdatedAt,
		"classifications": rels,
	}
}
