package domain

import "time"

// SyncState is the progress of the current (or last) registry sync run.
type SyncState struct {
	RunID                   string     `json:"run_id,omitempty"`
	Running                 bool       `json:"running"`
	StartedAt               *time.Time `json:"started_at"`
	FinishedAt              *time.Time `json:"finished_at"`
	CurrentPage             int        `json:"current_page"`
	ProcessedCompanies      int        `json:"processed_companies"`
	ImportedCompanies       int        `json:"imported_companies"`
	SkippedCompanies        int        `json:"skipped_companies"`
	ImportedClassifications int        `json:"imported_classifications"`
	LastError               *string    `json:"last_error"`
}

type SyncStatus struct {
	SyncState
	Cached RegistryCounts `json:"cached"`
}

type SyncEventType string

const (
	SyncEventStarted  SyncEventType = "started"
	SyncEventFinished SyncEventType = "finished"
)

type SyncEvent struct {
	Type       SyncEventType `json:"type"`
	RunID      string        `json:"run_id"`
	State      SyncState     `json:"state"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// SyncLimits bounds one sync run.
type SyncLimits struct {
	PageSize          int
	DetailConcurrency int
}
