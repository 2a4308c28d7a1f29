package model

import "time"

// ProviderCall is one row of the append-only provider audit ledger. Exactly
// one row is written per provider invoked for a lead within a run.
type ProviderCall struct {
	ID          int64        `json:"id,omitempty"`
	RunID       string       `json:"run_id"`
	LeadID      string       `json:"lead_id"`
	Provider    string       `json:"provider"`
	Tier        ProviderTier `json:"tier"`
	CostCents   int64        `json:"cost_cents"`
	Succeeded   bool         `json:"succeeded"`
	ErrorReason string       `json:"error_reason,omitempty"`
	CalledAt    time.Time    `json:"called_at"`
}

// Quota is the budget window status.
type Quota struct {
	LimitCents     int64     `json:"limit_cents"`
	SpentCents     int64     `json:"spent_cents"`
	ReservedCents  int64     `json:"reserved_cents"`
	RemainingCents int64     `json:"remaining_cents"`
	Unlimited      bool      `json:"unlimited"`
	SoftPaused     bool      `json:"soft_paused"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
}

// Lookups returns how many lookups at costCents still fit in the window.
// A zero or negative cost fits without bound and reports -1.
func (q Quota) Lookups(costCents int64) int64 {
	if q.Unlimited || costCents <= 0 {
		return -1
	}
	if q.RemainingCents <= 0 {
		return 0
	}
	return q.RemainingCents / costCents
}
