package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/resilience"
	"github.com/sells-group/skiptrace/internal/store"
)

// ProviderHealth is one provider's call outcomes within the lookback window.
type ProviderHealth struct {
	Name        string  `json:"name"`
	Calls       int     `json:"calls"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
	CostCents   int64   `json:"cost_cents"`
	Circuit     string  `json:"circuit,omitempty"`
}

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Budget window.
	Quota model.Quota `json:"quota"`

	// Provider calls within the lookback window.
	ProviderCalls    int              `json:"provider_calls"`
	ProviderFailures int              `json:"provider_failures"`
	LookbackCents    int64            `json:"lookback_cents"`
	Providers        []ProviderHealth `json:"providers"`

	// Runs started within the lookback window and still open.
	UnfinishedRuns int `json:"unfinished_runs"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// QuotaSource reports the budget window.
type QuotaSource interface {
	Quota(ctx context.Context) (model.Quota, error)
}

// Store is the persistence the collector reads.
type Store interface {
	ListProviderCalls(ctx context.Context, filter store.CallFilter) ([]model.ProviderCall, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// BreakerSource exposes circuit breaker state.
type BreakerSource interface {
	Snapshot() []resilience.Status
}

// Collector gathers metrics from the ledger, budget guard and breakers.
type Collector struct {
	store    Store
	quota    QuotaSource
	breakers BreakerSource

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st Store, quota QuotaSource, breakers BreakerSource) *Collector {
	return &Collector{store: st, quota: quota, breakers: breakers, nowFunc: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	q, err := c.quota.Quota(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: quota")
	}
	snap.Quota = q

	calls, err := c.store.ListProviderCalls(ctx, store.CallFilter{From: cutoff})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list provider calls")
	}

	byName := make(map[string]*ProviderHealth)
	for _, call := range calls {
		ph, ok := byName[call.Provider]
		if !ok {
			ph = &ProviderHealth{Name: call.Provider}
			byName[call.Provider] = ph
		}
		ph.Calls++
		ph.CostCents += call.CostCents
		snap.ProviderCalls++
		snap.LookbackCents += call.CostCents
		if !call.Succeeded {
			ph.Failures++
			snap.ProviderFailures++
		}
	}

	if c.breakers != nil {
		for _, st := range c.breakers.Snapshot() {
			ph, ok := byName[st.Name]
			if !ok {
				ph = &ProviderHealth{Name: st.Name}
				byName[st.Name] = ph
			}
			ph.Circuit = st.State
		}
	}

	for _, ph := range byName {
		if ph.Calls > 0 {
			ph.FailureRate = float64(ph.Failures) / float64(ph.Calls)
		}
		snap.Providers = append(snap.Providers, *ph)
	}
	sort.Slice(snap.Providers, func(i, j int) bool { return snap.Providers[i].Name < snap.Providers[j].Name })

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Unfinished: true, StartedAfter: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	snap.UnfinishedRuns = len(runs)

	return snap, nil
}
