package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = eris.New("not found")

// ErrInvalidTransition is returned when a RunItem status change would
// regress or skip a state.
var ErrInvalidTransition = eris.New("invalid run item transition")

// ErrRunFinished is returned when mutating a run whose finished_at is set.
var ErrRunFinished = eris.New("run is finished")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	SourceLabel  string    `json:"source_label,omitempty"`
	Unfinished   bool      `json:"unfinished,omitempty"`
	StartedAfter time.Time `json:"started_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// CallFilter specifies criteria for listing provider calls. Zero values
// are ignored; From is inclusive and To exclusive.
type CallFilter struct {
	RunID  string
	LeadID string
	From   time.Time
	To     time.Time
}

// LeadStore is the collaborator boundary to the lead CRUD subsystem.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateContactProjection(ctx context.Context, id, phone, email string) error
	UpsertLeads(ctx context.Context, leads []model.Lead) (int, error)
}

// Ledger holds current enrichment results and the provider call audit log.
type Ledger interface {
	// GetCurrent returns nil, nil when the lead has never been resolved.
	GetCurrent(ctx context.Context, leadID string) (*model.EnrichmentResult, error)
	GetCurrentBatch(ctx context.Context, leadIDs []string) (map[string]*model.EnrichmentResult, error)
	// UpsertResult atomically inserts or replaces the lead's current result.
	UpsertResult(ctx context.Context, result *model.EnrichmentResult) error
	RecordProviderCall(ctx context.Context, call *model.ProviderCall) error
	ListProviderCalls(ctx context.Context, filter CallFilter) ([]model.ProviderCall, error)
	SumCallCost(ctx context.Context, from, to time.Time) (int64, error)
}

// RunStore persists runs and their items.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run, leadIDs []string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ListRunItems(ctx context.Context, runID string, status model.ItemStatus) ([]model.RunItem, error)
	CountItems(ctx context.Context, runID string) (model.ItemCounts, error)
	// TransitionItem moves an item to status only from one of its legal
	// predecessors; otherwise it returns ErrInvalidTransition.
	TransitionItem(ctx context.Context, runID, leadID string, to model.ItemStatus, lastError string) error
	SetSoftPaused(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, runID string, at time.Time) error
}

// ReportStore persists immutable run reports.
type ReportStore interface {
	// SaveReport stores the report if none exists for the run yet.
	SaveReport(ctx context.Context, report *model.RunReport) error
	// GetReport returns nil, nil when no report was persisted.
	GetReport(ctx context.Context, runID string) (*model.RunReport, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	LeadStore
	Ledger
	RunStore
	ReportStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
