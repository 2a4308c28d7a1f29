// Package report summarises runs and provider spend.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/store"
)

// ErrRunNotFinished is returned when persisting a report for a run that
// is still in progress.
var ErrRunNotFinished = eris.New("run is not finished")

const (
	topFailures = 10
	sampleSize  = 3
)

// Store is the persistence the generator reads and writes.
type Store interface {
	store.RunStore
	store.Ledger
	store.ReportStore
}

// Generator builds run reports from run items and the provider call ledger.
type Generator struct {
	store Store
	loc   *time.Location

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewGenerator creates a Generator. loc sets the day boundaries used by
// Analytics and defaults to UTC.
func NewGenerator(st Store, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{store: st, loc: loc, nowFunc: time.Now}
}

// Generate computes the report of a run from its current rows. It writes
// nothing.
func (g *Generator) Generate(ctx context.Context, runID string) (*model.RunReport, error) {
	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load run %s", runID)
	}
	items, err := g.store.ListRunItems(ctx, runID, "")
	if err != nil {
		return nil, eris.Wrapf(err, "report: list items for %s", runID)
	}
	calls, err := g.store.ListProviderCalls(ctx, store.CallFilter{RunID: runID})
	if err != nil {
		return nil, eris.Wrapf(err, "report: list provider calls for %s", runID)
	}

	r := &model.RunReport{
		RunID:       run.ID,
		SourceLabel: run.SourceLabel,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		SoftPaused:  run.SoftPaused,
		ByProvider:  make(map[string]model.ProviderStats),
	}
	end := g.nowFunc()
	if run.FinishedAt != nil {
		end = *run.FinishedAt
	}
	r.DurationMs = max(end.Sub(run.StartedAt).Milliseconds(), 0)

	called := make(map[string]bool, len(calls))
	for _, c := range calls {
		called[c.LeadID] = true
		ps := r.ByProvider[c.Provider]
		ps.Calls++
		if c.Succeeded {
			ps.Successes++
		}
		ps.CostCents += c.CostCents
		r.ByProvider[c.Provider] = ps

		r.Totals.ProviderCalls++
		r.Totals.CostCents += c.CostCents
	}

	var (
		done, failed []string
		reasons      = make(map[string]int)
		counts       model.ItemCounts
	)
	for _, it := range items {
		counts.Add(it.Status, 1)
		switch it.Status {
		case model.ItemDone:
			done = append(done, it.LeadID)
			if !called[it.LeadID] {
				r.Totals.Cached++
			}
		case model.ItemFailed:
			failed = append(failed, it.LeadID)
			reason := it.LastError
			if reason == "" {
				reason = "unknown"
			}
			reasons[reason]++
		}
	}
	r.Totals.Total = counts.Total
	r.Totals.Queued = counts.Queued
	r.Totals.InFlight = counts.InFlight
	r.Totals.Done = counts.Done
	r.Totals.Failed = counts.Failed

	if len(done) > 0 {
		current, err := g.store.GetCurrentBatch(ctx, done)
		if err != nil {
			return nil, eris.Wrapf(err, "report: load results for %s", runID)
		}
		var phones, emails int
		for _, id := range done {
			res := current[id]
			if res.HasPhone() {
				phones++
			}
			if res.HasEmail() {
				emails++
			}
		}
		r.PhoneHitRate = ratio(phones, len(done))
		r.EmailHitRate = ratio(emails, len(done))
		r.CacheHitRatio = ratio(r.Totals.Cached, len(done))
	}

	r.TopFailures = rankReasons(reasons)
	r.SampleEnriched = sample(done)
	r.SampleFailed = sample(failed)
	return r, nil
}

// Persist stores the report of a finished run. A report already on file
// is kept and returned unchanged.
func (g *Generator) Persist(ctx context.Context, runID string) (*model.RunReport, error) {
	existing, err := g.store.GetReport(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load persisted report %s", runID)
	}
	if existing != nil {
		return existing, nil
	}

	r, err := g.Generate(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.FinishedAt == nil {
		return nil, eris.Wrapf(ErrRunNotFinished, "report: persist %s", runID)
	}
	if err := g.store.SaveReport(ctx, r); err != nil {
		return nil, eris.Wrapf(err, "report: save report %s", runID)
	}
	return r, nil
}

// Get returns the persisted report, persisting it first for a finished
// run that lacks one, or a live report for a run still in progress.
func (g *Generator) Get(ctx context.Context, runID string) (*model.RunReport, error) {
	existing, err := g.store.GetReport(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load persisted report %s", runID)
	}
	if existing != nil {
		return existing, nil
	}

	run, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load run %s", runID)
	}
	if run.Finished() {
		return g.Persist(ctx, runID)
	}
	return g.Generate(ctx, runID)
}

// Analytics aggregates provider calls made in [from, to) with a per-day
// breakdown in the generator's time zone.
func (g *Generator) Analytics(ctx context.Context, from, to time.Time) (*model.Analytics, error) {
	if !to.After(from) {
		return nil, eris.Errorf("report: analytics range end %s is not after start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	calls, err := g.store.ListProviderCalls(ctx, store.CallFilter{From: from, To: to})
	if err != nil {
		return nil, eris.Wrap(err, "report: analytics")
	}

	a := &model.Analytics{
		StartDate:  from.In(g.loc).Format(time.DateOnly),
		EndDate:    to.Add(-time.Nanosecond).In(g.loc).Format(time.DateOnly),
		ByProvider: make(map[string]model.ProviderStats),
	}
	days := make(map[string]*model.DailySpend)
	traced := make(map[string]bool)
	for _, c := range calls {
		a.TotalCalls++
		a.TotalCostCents += c.CostCents
		if c.Succeeded {
			a.SuccessfulCalls++
			traced[c.LeadID] = true
		} else {
			a.FailedCalls++
		}

		ps := a.ByProvider[c.Provider]
		ps.Calls++
		ps.CostCents += c.CostCents
		if c.Succeeded {
			ps.Successes++
		}
		a.ByProvider[c.Provider] = ps

		key := c.CalledAt.In(g.loc).Format(time.DateOnly)
		d, ok := days[key]
		if !ok {
			d = &model.DailySpend{Date: key}
			days[key] = d
		}
		d.Calls++
		d.CostCents += c.CostCents
		if c.Succeeded {
			d.Successes++
		}
	}
	a.LeadsTraced = len(traced)

	a.Daily = make([]model.DailySpend, 0, len(days))
	for _, d := range days {
		a.Daily = append(a.Daily, *d)
	}
	sort.Slice(a.Daily, func(i, j int) bool { return a.Daily[i].Date < a.Daily[j].Date })
	return a, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func rankReasons(reasons map[string]int) []model.FailureReason {
	out := make([]model.FailureReason, 0, len(reasons))
	for reason, n := range reasons {
		out = append(out, model.FailureReason{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if len(out) > topFailures {
		out = out[:topFailures]
	}
	return out
}

func sample(ids []string) []string {
	sorted := append([]string{}, ids...)
	sort.Strings(sorted)
	if len(sorted) > sampleSize {
		sorted = sorted[:sampleSize]
	}
	return sorted
}
