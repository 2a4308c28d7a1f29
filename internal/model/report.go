package model

import "time"

// RunReport is the immutable summary artifact for a run.
type RunReport struct {
	RunID          string                   `json:"run_id"`
	SourceLabel    string                   `json:"source_label"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     *time.Time               `json:"finished_at,omitempty"`
	DurationMs     int64                    `json:"duration_ms"`
	SoftPaused     bool                     `json:"soft_paused"`
	Totals         ReportTotals             `json:"totals"`
	PhoneHitRate   float64                  `json:"phone_hit_rate"`
	EmailHitRate   float64                  `json:"email_hit_rate"`
	CacheHitRatio  float64                  `json:"cache_hit_ratio"`
	ByProvider     map[string]ProviderStats `json:"by_provider"`
	TopFailures    []FailureReason          `json:"top_failures"`
	SampleEnriched []string                 `json:"sample_enriched"`
	SampleFailed   []string                 `json:"sample_failed"`
}

// ReportTotals are run-level counts and spend.
type ReportTotals struct {
	Total         int   `json:"total"`
	Queued        int   `json:"queued"`
	InFlight      int   `json:"in_flight"`
	Done          int   `json:"done"`
	Failed        int   `json:"failed"`
	Cached        int   `json:"cached"`
	ProviderCalls int   `json:"provider_calls"`
	CostCents     int64 `json:"cost_cents"`
}

// ProviderStats aggregates ledger rows for one provider.
type ProviderStats struct {
	Calls     int   `json:"calls"`
	Successes int   `json:"successes"`
	CostCents int64 `json:"cost_cents"`
}

// FailureReason is a grouped RunItem.LastError with its frequency.
type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Analytics aggregates provider spend over a date range.
type Analytics struct {
	StartDate       string                   `json:"start_date"`
	EndDate         string                   `json:"end_date"`
	TotalCalls      int                      `json:"total_calls"`
	SuccessfulCalls int                      `json:"successful_calls"`
	FailedCalls     int                      `json:"failed_calls"`
	LeadsTraced     int                      `json:"leads_traced"`
	TotalCostCents  int64                    `json:"total_cost_cents"`
	ByProvider      map[string]ProviderStats `json:"by_provider"`
	Daily           []DailySpend             `json:"daily"`
}

// DailySpend is one day of the analytics breakdown.
type DailySpend struct {
	Date      string `json:"date"`
	Calls     int    `json:"calls"`
	Successes int    `json:"successes"`
	CostCents int64  `json:"cost_cents"`
}
