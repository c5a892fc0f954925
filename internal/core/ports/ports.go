package ports

import (
	"context"
	"time"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
)

// Optional sinks. Usecases accept nil for any of them.

// SyncEventPublisher announces sync run lifecycle changes.
type SyncEventPublisher interface {
	PublishSyncEvent(ctx context.Context, event domain.SyncEvent) error
}

// ClassificationGraph mirrors company classifications into a graph store.
type ClassificationGraph interface {
	ProjectCompany(ctx context.Context, company domain.CanonicalCompany, classifications []domain.CompanyClassification) error
}

// SyncObserver records sync run metrics.
type SyncObserver interface {
	ObserveCompany(outcome string)
	ObserveRun(outcome string, duration time.Duration)
}
