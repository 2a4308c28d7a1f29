package model

import "time"

// ItemStatus is the lifecycle state of a single lead within a run.
type ItemStatus string

const (
	ItemQueued   ItemStatus = "queued"
	ItemInFlight ItemStatus = "in_flight"
	ItemDone     ItemStatus = "done"
	ItemFailed   ItemStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ItemStatus) Terminal() bool {
	return s == ItemDone || s == ItemFailed
}

// Predecessors returns the statuses an item may move to s from.
// Transitions are monotonic: queued -> in_flight -> done|failed.
func (s ItemStatus) Predecessors() []ItemStatus {
	switch s {
	case ItemInFlight:
		return []ItemStatus{ItemQueued}
	case ItemDone, ItemFailed:
		return []ItemStatus{ItemInFlight}
	default:
		return nil
	}
}

// Failure reasons recorded as RunItem.LastError.
const (
	ReasonBudgetExceeded = "budget_exceeded"
	ReasonLeadNotFound   = "lead_not_found"
	ReasonInterrupted    = "interrupted"
	ReasonStoreError     = "store_error"
	ReasonExhausted      = "all_providers_exhausted"
)

// Run groups one batch submission.
type Run struct {
	ID          string     `json:"run_id"`
	SourceLabel string     `json:"source_label"`
	Force       bool       `json:"force"`
	SoftPaused  bool       `json:"soft_paused"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the run is closed to further mutation.
func (r *Run) Finished() bool { return r.FinishedAt != nil }

// RunItem is the per-lead unit of work within a run.
type RunItem struct {
	RunID     string     `json:"run_id"`
	LeadID    string     `json:"lead_id"`
	Status    ItemStatus `json:"status"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ItemCounts are run aggregates recomputed from RunItem rows.
type ItemCounts struct {
	Total    int `json:"total"`
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
}

// Add increments the bucket for status by n.
func (c *ItemCounts) Add(status ItemStatus, n int) {
	switch status {
	case ItemQueued:
		c.Queued += n
	case ItemInFlight:
		c.InFlight += n
	case ItemDone:
		c.Done += n
	case ItemFailed:
		c.Failed += n
	}
	c.Total += n
}

// RunSummary is a run plus its recomputed aggregates.
type RunSummary struct {
	Run
	ItemCounts
}
