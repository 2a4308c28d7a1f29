// Package runner drives batches of leads through the provider chain.
package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/skiptrace/internal/budget"
	"github.com/sells-group/skiptrace/internal/cost"
	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/store"
	"github.com/sells-group/skiptrace/internal/waterfall"
)

var (
	// ErrValidation is returned for malformed submissions. No run is created.
	ErrValidation = eris.New("validation failed")
	// ErrNoProviders is returned when the chain is empty.
	ErrNoProviders = eris.New("no providers configured")
)

// SourceSingle labels the one-item runs created by TraceLead.
const SourceSingle = "single"

// Tracer walks the provider chain for one lead.
type Tracer interface {
	Trace(ctx context.Context, runID string, lead *model.Lead) (*waterfall.Outcome, error)
	MaxLookupCents() int64
	Providers() []string
}

// Reporter persists the report of a finished run.
type Reporter interface {
	Persist(ctx context.Context, runID string) (*model.RunReport, error)
}

// Config controls batch processing.
type Config struct {
	Concurrency  int
	MaxBatchSize int
}

// SubmitOptions are caller choices for a new run.
type SubmitOptions struct {
	SourceLabel string
	Force       bool
}

// ItemResult is the outcome of processing one run item.
type ItemResult struct {
	LeadID    string                  `json:"lead_id"`
	Status    model.ItemStatus        `json:"status"`
	Result    *model.EnrichmentResult `json:"result,omitempty"`
	Cached    bool                    `json:"cached"`
	CostCents int64                   `json:"cost_cents"`
	Reason    string                  `json:"reason,omitempty"`

	// Err is the underlying cause of a failed item.
	Err error `json:"-"`
}

// BatchResult is what one Process call accomplished.
type BatchResult struct {
	RunID          string           `json:"run_id"`
	Items          []ItemResult     `json:"items"`
	TotalCostCents int64            `json:"total_cost_cents"`
	Summary        model.RunSummary `json:"summary"`
}

// Succeeded counts items that finished done.
func (b *BatchResult) Succeeded() int {
	n := 0
	for _, it := range b.Items {
		if it.Status == model.ItemDone {
			n++
		}
	}
	return n
}

// Estimate is the pre-flight worst case for a submission.
type Estimate struct {
	Leads          int   `json:"leads"`
	NeedLookup     int   `json:"need_lookup"`
	EstimatedCents int64 `json:"estimated_cents"`
}

// Manager owns run lifecycle.
type Manager struct {
	store   store.Store
	tracer  Tracer
	guard   *budget.Guard
	reports Reporter
	cfg     Config

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
	newID   func() string
}

// New creates a Manager. reports may be nil.
func New(st store.Store, tracer Tracer, guard *budget.Guard, reports Reporter, cfg Config) *Manager {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1000
	}
	return &Manager{
		store:   st,
		tracer:  tracer,
		guard:   guard,
		reports: reports,
		cfg:     cfg,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
}

// Guard returns the budget guard.
func (m *Manager) Guard() *budget.Guard { return m.guard }

// MaxLookupCents is the worst-case cost of tracing one lead.
func (m *Manager) MaxLookupCents() int64 { return m.tracer.MaxLookupCents() }

// Providers lists the chain in call order.
func (m *Manager) Providers() []string { return m.tracer.Providers() }

// Estimate computes the worst-case spend of tracing leadIDs: leads that
// already have a current result cost nothing unless force is set.
func (m *Manager) Estimate(ctx context.Context, leadIDs []string, force bool) (Estimate, error) {
	ids, err := m.validate(leadIDs)
	if err != nil {
		return Estimate{}, err
	}
	need := len(ids)
	if !force {
		current, err := m.store.GetCurrentBatch(ctx, ids)
		if err != nil {
			return Estimate{}, eris.Wrap(err, "runner: estimate")
		}
		need -= len(current)
	}
	return Estimate{
		Leads:          len(ids),
		NeedLookup:     need,
		EstimatedCents: int64(need) * m.tracer.MaxLookupCents(),
	}, nil
}

// Preflight estimates a submission and checks the worst case against the
// remaining quota. It returns budget.ErrBudgetExceeded when the batch
// cannot fit; nothing is reserved either way.
func (m *Manager) Preflight(ctx context.Context, leadIDs []string, force bool) (Estimate, model.Quota, error) {
	est, err := m.Estimate(ctx, leadIDs, force)
	if err != nil {
		return est, model.Quota{}, err
	}
	q, err := m.guard.Quota(ctx)
	if err != nil {
		return est, q, eris.Wrap(err, "runner: preflight quota")
	}
	if est.NeedLookup > 0 && !q.Unlimited && (q.SoftPaused || est.EstimatedCents > q.RemainingCents) {
		return est, q, eris.Wrapf(budget.ErrBudgetExceeded, "batch needs up to %s for %d lookups but %s remains in today's budget",
			cost.FormatCents(est.EstimatedCents), est.NeedLookup, cost.FormatCents(q.RemainingCents))
	}
	return est, q, nil
}

// CreateRun validates the batch and persists a run with one queued item
// per distinct lead.
func (m *Manager) CreateRun(ctx context.Context, leadIDs []string, opts SubmitOptions) (string, error) {
	if len(m.tracer.Providers()) == 0 {
		return "", ErrNoProviders
	}
	ids, err := m.validate(leadIDs)
	if err != nil {
		return "", err
	}

	label := strings.TrimSpace(opts.SourceLabel)
	if label == "" {
		label = "bulk"
	}
	run := &model.Run{
		ID:          m.newID(),
		SourceLabel: label,
		Force:       opts.Force,
		StartedAt:   m.nowFunc().UTC(),
	}
	if err := m.store.CreateRun(ctx, run, ids); err != nil {
		return "", eris.Wrap(err, "runner: create run")
	}

	zap.L().Info("runner: run created",
		zap.String("run_id", run.ID),
		zap.String("source_label", label),
		zap.Int("items", len(ids)),
		zap.Bool("force", opts.Force),
	)
	return run.ID, nil
}

// Submit creates a run and processes it.
func (m *Manager) Submit(ctx context.Context, leadIDs []string, opts SubmitOptions) (*BatchResult, error) {
	runID, err := m.CreateRun(ctx, leadIDs, opts)
	if err != nil {
		return nil, err
	}
	return m.Process(ctx, runID)
}

// Process works through the run's queued items with a bounded pool.
// Cancelling ctx stops dispatch but lets in-flight items finish; the run
// is then left unfinished so it can be resumed. Otherwise the run is
// finished and its report persisted when dispatch ends.
func (m *Manager) Process(ctx context.Context, runID string) (*BatchResult, error) {
	// Store work runs detached from the caller so cancellation never
	// strands an item between in_flight and a terminal state.
	work := context.WithoutCancel(ctx)

	run, err := m.store.GetRun(work, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: load run %s", runID)
	}
	if run.Finished() {
		return nil, eris.Wrapf(store.ErrRunFinished, "runner: process run %s", runID)
	}

	queued, err := m.store.ListRunItems(work, runID, model.ItemQueued)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: list queued items for %s", runID)
	}
	ids := make([]string, len(queued))
	for i, it := range queued {
		ids[i] = it.LeadID
	}

	var cached map[string]*model.EnrichmentResult
	if !run.Force && len(ids) > 0 {
		if cached, err = m.store.GetCurrentBatch(work, ids); err != nil {
			return nil, eris.Wrapf(err, "runner: load cached results for %s", runID)
		}
	}

	log := zap.L().With(zap.String("component", "runner"), zap.String("run_id", runID))
	log.Info("runner: processing run", zap.Int("queued", len(ids)), zap.Int("concurrency", m.cfg.Concurrency))

	var (
		g       errgroup.Group
		paused  atomic.Bool
		mu      sync.Mutex
		results = make([]ItemResult, 0, len(ids))
	)
	g.SetLimit(m.cfg.Concurrency)

	for _, id := range ids {
		if ctx.Err() != nil || paused.Load() {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil || paused.Load() {
				return nil
			}
			res := m.processItem(work, run, id, cached[id])
			if res.Reason == model.ReasonBudgetExceeded && !paused.Swap(true) {
				log.Warn("runner: budget exhausted, soft pausing run")
				if err := m.store.SetSoftPaused(work, runID); err != nil {
					log.Error("runner: set soft pause", zap.Error(err))
				}
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{RunID: runID, Items: results}
	for _, r := range results {
		out.TotalCostCents += r.CostCents
	}

	if ctx.Err() == nil {
		if err := m.finish(work, runID); err != nil {
			return nil, err
		}
	} else {
		log.Warn("runner: dispatch cancelled, run left resumable", zap.Error(ctx.Err()))
	}

	summary, err := m.RunStatus(work, runID)
	if err != nil {
		return nil, err
	}
	out.Summary = *summary

	log.Info("runner: run processed",
		zap.Int("processed", len(results)),
		zap.Int("succeeded", out.Succeeded()),
		zap.Int64("cost_cents", out.TotalCostCents),
		zap.Bool("soft_paused", summary.SoftPaused),
	)
	return out, nil
}

// Resume fails items stranded in_flight by a crash and processes what is
// still queued.
func (m *Manager) Resume(ctx context.Context, runID string) (*BatchResult, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: load run %s", runID)
	}
	if run.Finished() {
		return nil, eris.Wrapf(store.ErrRunFinished, "runner: resume run %s", runID)
	}

	stranded, err := m.store.ListRunItems(ctx, runID, model.ItemInFlight)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: list in-flight items for %s", runID)
	}
	for _, it := range stranded {
		if err := m.store.TransitionItem(ctx, runID, it.LeadID, model.ItemFailed, model.ReasonInterrupted); err != nil {
			return nil, eris.Wrapf(err, "runner: fail interrupted item %s", it.LeadID)
		}
	}
	if len(stranded) > 0 {
		zap.L().Info("runner: interrupted items failed", zap.String("run_id", runID), zap.Int("items", len(stranded)))
	}
	return m.Process(ctx, runID)
}

// TraceLead traces a single lead through a one-item run. The returned
// error carries the specific cause: store.ErrNotFound for an unknown
// lead, budget.ErrBudgetExceeded, or a *waterfall.ExhaustedError.
func (m *Manager) TraceLead(ctx context.Context, leadID string, force bool) (*ItemResult, error) {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return nil, eris.Wrap(ErrValidation, "lead id is required")
	}
	if _, err := m.store.GetLead(ctx, leadID); err != nil {
		return nil, eris.Wrapf(err, "runner: trace lead %s", leadID)
	}

	res, err := m.Submit(ctx, []string{leadID}, SubmitOptions{SourceLabel: SourceSingle, Force: force})
	if err != nil {
		return nil, err
	}
	if len(res.Items) != 1 {
		return nil, eris.Errorf("runner: trace lead %s: item was not processed", leadID)
	}
	item := res.Items[0]
	if item.Err != nil {
		return &item, item.Err
	}
	if !item.Status.Terminal() {
		return &item, eris.Errorf("runner: trace lead %s: item left %s", leadID, item.Status)
	}
	return &item, nil
}

// RunStatus returns the run with aggregates recomputed from its items.
func (m *Manager) RunStatus(ctx context.Context, runID string) (*model.RunSummary, error) {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: load run %s", runID)
	}
	counts, err := m.store.CountItems(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "runner: count items for %s", runID)
	}
	return &model.RunSummary{Run: *run, ItemCounts: counts}, nil
}

// ListRuns lists runs newest first.
func (m *Manager) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	runs, err := m.store.ListRuns(ctx, filter)
	return runs, eris.Wrap(err, "runner: list runs")
}

func (m *Manager) finish(ctx context.Context, runID string) error {
	if err := m.store.FinishRun(ctx, runID, m.nowFunc().UTC()); err != nil {
		return eris.Wrapf(err, "runner: finish run %s", runID)
	}
	if m.reports == nil {
		return nil
	}
	if _, err := m.reports.Persist(ctx, runID); err != nil {
		zap.L().Error("runner: persist report", zap.String("run_id", runID), zap.Error(err))
	}
	return nil
}

func (m *Manager) processItem(ctx context.Context, run *model.Run, leadID string, cached *model.EnrichmentResult) ItemResult {
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("lead_id", leadID))
	res := ItemResult{LeadID: leadID, Status: model.ItemInFlight}

	if err := m.store.TransitionItem(ctx, run.ID, leadID, model.ItemInFlight, ""); err != nil {
		log.Error("runner: claim item", zap.Error(err))
		res.Status, res.Reason, res.Err = model.ItemQueued, model.ReasonStoreError, err
		return res
	}

	fail := func(reason string, cause error) ItemResult {
		res.Status, res.Reason, res.Err = model.ItemFailed, reason, cause
		if err := m.store.TransitionItem(ctx, run.ID, leadID, model.ItemFailed, reason); err != nil {
			log.Error("runner: mark item failed", zap.String("reason", reason), zap.Error(err))
		}
		return res
	}
	done := func() ItemResult {
		if err := m.store.TransitionItem(ctx, run.ID, leadID, model.ItemDone, ""); err != nil {
			log.Error("runner: mark item done", zap.Error(err))
			res.Reason, res.Err = model.ReasonStoreError, err
			return res
		}
		res.Status = model.ItemDone
		return res
	}

	lead, err := m.store.GetLead(ctx, leadID)
	if errors.Is(err, store.ErrNotFound) {
		return fail(model.ReasonLeadNotFound, err)
	}
	if err != nil {
		return fail(model.ReasonStoreError, err)
	}

	if cached != nil {
		hit := *cached
		hit.Cached = true
		hit.CostCents = 0
		res.Result, res.Cached = &hit, true
		log.Debug("runner: cache hit")
		return done()
	}

	decision, err := m.guard.CheckAndReserve(ctx, m.tracer.MaxLookupCents())
	if err != nil {
		return fail(model.ReasonStoreError, err)
	}
	if !decision.Allowed {
		return fail(model.ReasonBudgetExceeded, budget.ErrBudgetExceeded)
	}

	out, err := m.tracer.Trace(ctx, run.ID, lead)
	if err != nil {
		// A paid lookup may precede the error.
		var charged int64
		if out != nil {
			charged = out.CostCents
		}
		m.guard.Commit(decision, charged)
		res.CostCents = charged
		if _, ok := waterfall.AsExhausted(err); ok {
			log.Info("runner: all providers exhausted", zap.Error(err))
			return fail(model.ReasonExhausted, err)
		}
		log.Error("runner: trace", zap.Error(err))
		return fail(model.ReasonStoreError, err)
	}
	m.guard.Commit(decision, out.CostCents)
	res.Result, res.CostCents = out.Result, out.CostCents

	if phone, email := out.Result.BestPhone(), out.Result.BestEmail(); phone != "" || email != "" {
		if err := m.store.UpdateContactProjection(ctx, leadID, phone, email); err != nil {
			log.Warn("runner: update lead contact projection", zap.Error(err))
		}
	}
	return done()
}

// validate trims and de-duplicates ids, preserving first-seen order.
func (m *Manager) validate(leadIDs []string) ([]string, error) {
	if len(leadIDs) == 0 {
		return nil, eris.Wrap(ErrValidation, "at least one lead id is required")
	}
	seen := make(map[string]bool, len(leadIDs))
	ids := make([]string, 0, len(leadIDs))
	for i, raw := range leadIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, eris.Wrapf(ErrValidation, "lead id at index %d is blank", i)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > m.cfg.MaxBatchSize {
		return nil, eris.Wrapf(ErrValidation, "batch of %d leads exceeds the limit of %d", len(ids), m.cfg.MaxBatchSize)
	}
	return ids, nil
}
