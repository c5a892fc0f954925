package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
	"github.com/kirillkom/crimson-crm/internal/core/registry"
)

const (
	defaultSyncPageSize = 100
	maxSyncPageSize     = 9999

	companyOutcomeImported = "imported"
	companyOutcomeDegraded = "degraded"
	companyOutcomeSkipped  = "skipped"
	companyOutcomeNoMBS    = "no_mbs"
	companyOutcomeRejected = "rejected"
)

// RegistrySyncUseCase runs at most one registry sync at a time in the
// background and exposes its progress.
type RegistrySyncUseCase struct {
	client   ports.RegistryClient
	repo     ports.RegistryRepository
	events   ports.SyncEventPublisher
	graph    ports.ClassificationGraph
	observer ports.SyncObserver
	limits   domain.SyncLimits
	logger   *slog.Logger

	now      func() time.Time
	newRunID func() string

	mu    sync.RWMutex
	state domain.SyncState
	runs  sync.WaitGroup
}

func NewRegistrySyncUseCase(
	client ports.RegistryClient,
	repo ports.RegistryRepository,
	events ports.SyncEventPublisher,
	graph ports.ClassificationGraph,
	observer ports.SyncObserver,
	limits domain.SyncLimits,
	logger *slog.Logger,
) *RegistrySyncUseCase {
	limits.PageSize = clampPageSize(limits.PageSize)
	if limits.DetailConcurrency <= 0 {
		limits.DetailConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrySyncUseCase{
		client:   client,
		repo:     repo,
		events:   events,
		graph:    graph,
		observer: observer,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return defaultSyncPageSize
	case size > maxSyncPageSize:
		return maxSyncPageSize
	default:
		return size
	}
}

// StartSync resets the progress counters and launches a background run. It
// returns ErrConflict without touching state if a run is already active.
func (uc *RegistrySyncUseCase) StartSync(ctx context.Context) (domain.SyncStatus, error) {
	uc.mu.Lock()
	if uc.state.Running {
		uc.mu.Unlock()
		return domain.SyncStatus{}, domain.WrapError(domain.ErrConflict, "start sync", errors.New("sync already running"))
	}
	startedAt := uc.now()
	uc.state = domain.SyncState{
		RunID:     uc.newRunID(),
		Running:   true,
		StartedAt: &startedAt,
	}
	snapshot := uc.state
	uc.runs.Add(1)
	uc.mu.Unlock()

	go uc.run(context.WithoutCancel(ctx), snapshot)

	counts, err := uc.repo.Counts(ctx)
	if err != nil {
		uc.logger.Warn("sync_status_counts_failed", "run_id", snapshot.RunID, "error", err)
	}
	return domain.SyncStatus{SyncState: snapshot, Cached: counts}, nil
}

// Status returns the current progress merged with live cache counts.
func (uc *RegistrySyncUseCase) Status(ctx context.Context) (domain.SyncStatus, error) {
	state := uc.snapshot()
	counts, err := uc.repo.Counts(ctx)
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("count cached registry rows: %w", err)
	}
	return domain.SyncStatus{SyncState: state, Cached: counts}, nil
}

// Wait blocks until every launched run has finished.
func (uc *RegistrySyncUseCase) Wait() {
	uc.runs.Wait()
}

func (uc *RegistrySyncUseCase) snapshot() domain.SyncState {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.state
}

// update is the only writer of the sync state once a run is in flight.
func (uc *RegistrySyncUseCase) update(mutate func(*domain.SyncState)) {
	uc.mu.Lock()
	mutate(&uc.state)
	uc.mu.Unlock()
}

func (uc *RegistrySyncUseCase) run(ctx context.Context, initial domain.SyncState) {
	defer uc.runs.Done()

	started := uc.now()
	uc.logger.Info("sync_started",
		"run_id", initial.RunID,
		"page_size", uc.limits.PageSize,
		"detail_concurrency", uc.limits.DetailConcurrency,
	)
	uc.publish(ctx, domain.SyncEventStarted, initial)

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("sync panic: %v", r)
		}
		uc.finish(ctx, started, runErr)
	}()

	runErr = uc.execute(ctx)
}

func (uc *RegistrySyncUseCase) execute(ctx context.Context) error {
	if err := uc.client.Authenticate(ctx); err != nil {
		return fmt.Errorf("acquire registry token: %w", err)
	}

	uc.refreshTaxonomy(ctx)

	knownIDs, err := uc.repo.ListKnownMBS(ctx)
	if err != nil {
		return fmt.Errorf("load known companies: %w", err)
	}
	return uc.paginate(ctx, newKnownSet(knownIDs))
}

func (uc *RegistrySyncUseCase) finish(ctx context.Context, started time.Time, runErr error) {
	finishedAt := uc.now()
	var final domain.SyncState
	uc.update(func(s *domain.SyncState) {
		if runErr != nil {
			s.LastError = stringPtr(runErr.Error())
		}
		s.Running = false
		s.FinishedAt = &finishedAt
		final = *s
	})

	outcome := "success"
	if runErr != nil {
		outcome = "failed"
		uc.logger.Error("sync_failed", "run_id", final.RunID, "error", runErr)
	}
	uc.logger.Info("sync_finished",
		"run_id", final.RunID,
		"outcome", outcome,
		"pages", final.CurrentPage,
		"processed", final.ProcessedCompanies,
		"imported", final.ImportedCompanies,
		"skipped", final.SkippedCompanies,
		"classifications", final.ImportedClassifications,
		"duration_ms", finishedAt.Sub(started).Milliseconds(),
	)
	if uc.observer != nil {
		uc.observer.ObserveRun(outcome, finishedAt.Sub(started))
	}
	uc.publish(ctx, domain.SyncEventFinished, final)
}

// refreshTaxonomy is best effort: a failure is recorded in LastError and the
// run continues.
func (uc *RegistrySyncUseCase) refreshTaxonomy(ctx context.Context) {
	entries, err := uc.client.ListClassifications(ctx)
	if err != nil {
		uc.taxonomyFailed(err)
		return
	}
	for _, entry := range entries {
		code, name := registry.ClassificationEntry(entry)
		if code == "" {
			continue
		}
		err := uc.repo.UpsertClassificationCode(ctx, domain.ClassificationCode{
			Code:        code,
			Name:        name,
			RawDocument: rawDocument(entry),
			UpdatedAt:   uc.now(),
		})
		if err != nil {
			uc.taxonomyFailed(fmt.Errorf("upsert classification %s: %w", code, err))
			return
		}
		uc.update(func(s *domain.SyncState) { s.ImportedClassifications++ })
	}
}

func (uc *RegistrySyncUseCase) taxonomyFailed(err error) {
	uc.logger.Warn("taxonomy_refresh_failed", "error", err)
	uc.update(func(s *domain.SyncState) {
		s.LastError = stringPtr("taxonomy refresh: " + err.Error())
	})
}

// paginate walks the listing until a page comes back empty.
func (uc *RegistrySyncUseCase) paginate(ctx context.Context, known *knownSet) error {
	pageSize := uc.limits.PageSize
	for page, offset := 1, 0; ; page, offset = page+1, offset+pageSize {
		records, err := uc.client.ListCompanies(ctx, offset, pageSize)
		if err != nil {
			return fmt.Errorf("list registry companies at offset %d: %w", offset, err)
		}
		if len(records) == 0 {
			return nil
		}
		uc.update(func(s *domain.SyncState) { s.CurrentPage = page })
		if err := uc.processPage(ctx, records, known); err != nil {
			return err
		}
	}
}

func (uc *RegistrySyncUseCase) processPage(ctx context.Context, records []registry.Node, known *knownSet) error {
	if uc.limits.DetailConcurrency <= 1 {
		for _, rec := range records {
			if err := uc.processRecord(ctx, rec, known); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.limits.DetailConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			return uc.processRecord(gctx, rec, known)
		})
	}
	return g.Wait()
}

func (uc *RegistrySyncUseCase) processRecord(ctx context.Context, rec registry.Node, known *knownSet) error {
	listed := registry.MapToCanonical(rec)
	if listed.MBS == "" {
		uc.update(func(s *domain.SyncState) { s.ProcessedCompanies++ })
		uc.observeCompany(companyOutcomeNoMBS)
		return nil
	}
	if !known.claim(listed.MBS) {
		uc.update(func(s *domain.SyncState) {
			s.SkippedCompanies++
			s.ProcessedCompanies++
		})
		uc.observeCompany(companyOutcomeSkipped)
		return nil
	}

	company, classifications, outcome := uc.enrich(ctx, rec, listed)
	if err := uc.repo.SaveCompany(ctx, company, classifications); err != nil {
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			return fmt.Errorf("save registry company %s: %w", company.MBS, err)
		}
		// The store refused this row's data; the rest of the page is unaffected.
		uc.logger.Warn("company_save_rejected", "mbs", company.MBS, "error", err)
		uc.update(func(s *domain.SyncState) { s.ProcessedCompanies++ })
		uc.observeCompany(companyOutcomeRejected)
		return nil
	}
	projectGraph(ctx, uc.graph, uc.logger, company, classifications)

	uc.update(func(s *domain.SyncState) {
		s.ImportedCompanies++
		s.ProcessedCompanies++
	})
	uc.observeCompany(outcome)
	return nil
}

// enrich fetches the detail document for a new company. When the fetch fails
// the list-level row is kept and its classifications are cleared.
func (uc *RegistrySyncUseCase) enrich(
	ctx context.Context,
	rec registry.Node,
	listed domain.CanonicalCompany,
) (domain.CanonicalCompany, []domain.CompanyClassification, string) {
	detail, err := uc.client.GetCompanyDetail(ctx, listed.MBS)
	if err != nil {
		uc.logger.Warn("detail_fetch_failed", "mbs", listed.MBS, "error", err)
		listed.RawDocument = rawDocument(rec)
		listed.UpdatedAt = uc.now()
		return listed, []domain.CompanyClassification{}, companyOutcomeDegraded
	}
	company, classifications := companyFromDetail(listed.MBS, detail, listed, uc.now())
	return company, classifications, companyOutcomeImported
}

func (uc *RegistrySyncUseCase) publish(ctx context.Context, eventType domain.SyncEventType, state domain.SyncState) {
	if uc.events == nil {
		return
	}
	event := domain.SyncEvent{
		Type:       eventType,
		RunID:      state.RunID,
		State:      state,
		OccurredAt: uc.now(),
	}
	if err := uc.events.PublishSyncEvent(ctx, event); err != nil {
		uc.logger.Warn("sync_event_publish_failed", "run_id", state.RunID, "type", eventType, "error", err)
	}
}

func (uc *RegistrySyncUseCase) observeCompany(outcome string) {
	if uc.observer != nil {
		uc.observer.ObserveCompany(outcome)
	}
}

// knownSet is the set of MBS values already cached. claim is safe for
// concurrent use by the detail workers.
type knownSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newKnownSet(ids []string) *knownSet {
	set := &knownSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set
}

// claim adds mbs and reports whether it was new.
func (k *knownSet) claim(mbs string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.ids[mbs]; ok {
		return false
	}
	k.ids[mbs] = struct{}{}
	return true
}
