package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
)

// SyncTrigger starts sync runs on behalf of the worker schedule and remote
// trigger messages. A run already in flight is not an error for either.
type SyncTrigger struct {
	sync   ports.RegistrySyncService
	logger *slog.Logger
}

func NewSyncTrigger(syncSvc ports.RegistrySyncService, logger *slog.Logger) *SyncTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncTrigger{sync: syncSvc, logger: logger}
}

func (t *SyncTrigger) Trigger(ctx context.Context, source string) error {
	status, err := t.sync.StartSync(ctx)
	if err != nil {
		if domain.IsKind(err, domain.ErrConflict) {
			t.logger.Info("sync_trigger_ignored", "source", source, "reason", "already_running")
			return nil
		}
		return fmt.Errorf("start sync from %s: %w", source, err)
	}
	t.logger.Info("sync_triggered", "source", source, "run_id", status.RunID)
	return nil
}

// RunSchedule triggers a run every interval until ctx is done.
func (t *SyncTrigger) RunSchedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Trigger(ctx, "schedule"); err != nil {
				t.logger.Error("scheduled_sync_failed", "error", err)
			}
		}
	}
}
