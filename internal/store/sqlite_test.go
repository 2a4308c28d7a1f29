package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiptrace/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedLeads(t *testing.T, st Store, ids ...string) {
	t.Helper()
	leads := make([]model.Lead, len(ids))
	for i, id := range ids {
		leads[i] = model.Lead{ID: id, Address: fmt.Sprintf("%d Main St, Austin TX", i+1)}
	}
	_, err := st.UpsertLeads(context.Background(), leads)
	require.NoError(t, err)
}

// --- Leads ---

func TestSQLite_GetLead(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLeads(t, st, "L1")

	l, err := st.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "1 Main St, Austin TX", l.Address)
	assert.Empty(t, l.Phone)

	_, err = st.GetLead(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_UpdateContactProjection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLeads(t, st, "L1")

	require.NoError(t, st.UpdateContactProjection(ctx, "L1", "5125550100", ""))
	l, err := st.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "5125550100", l.Phone)
	assert.Empty(t, l.Email)

	// Empty values leave the existing projection alone.
	require.NoError(t, st.UpdateContactProjection(ctx, "L1", "", "owner@example.com"))
	l, err = st.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "5125550100", l.Phone)
	assert.Equal(t, "owner@example.com", l.Email)

	err = st.UpdateContactProjection(ctx, "missing", "1", "")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_UpsertLeads_KeepsProjection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLeads(t, st, "L1")
	require.NoError(t, st.UpdateContactProjection(ctx, "L1", "5125550100", ""))

	n, err := st.UpsertLeads(ctx, []model.Lead{{ID: "L1", Address: "9 Elm St"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l, err := st.GetLead(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "9 Elm St", l.Address)
	assert.Equal(t, "5125550100", l.Phone)
}

// --- Ledger ---

func TestSQLite_GetCurrent_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	r, err := st.GetCurrent(context.Background(), "L1")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestSQLite_UpsertResult_Replaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.EnrichmentResult{
		LeadID:       "L1",
		Phones:       []model.Phone{{Number: "5125550100", Confidence: 0.9}},
		Provider:     model.TierPrimary,
		ProviderName: "batchdata",
		CostCents:    25,
		ResolvedAt:   time.Now(),
	}
	require.NoError(t, st.UpsertResult(ctx, first))

	second := &model.EnrichmentResult{
		LeadID:       "L1",
		Emails:       []model.Email{{Address: "owner@example.com", Confidence: 0.4}},
		Provider:     model.TierFree,
		ProviderName: "county-records",
		ResolvedAt:   time.Now(),
	}
	require.NoError(t, st.UpsertResult(ctx, second))

	got, err := st.GetCurrent(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.TierFree, got.Provider)
	assert.Equal(t, "county-records", got.ProviderName)
	assert.Empty(t, got.Phones)
	require.Len(t, got.Emails, 1)
	assert.Equal(t, "owner@example.com", got.Emails[0].Address)
	assert.Equal(t, int64(0), got.CostCents)
	assert.False(t, got.Cached)
}

func TestSQLite_UpsertResult_ConcurrentSingleRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- st.UpsertResult(ctx, &model.EnrichmentResult{
				LeadID:       "L1",
				Phones:       []model.Phone{{Number: fmt.Sprintf("51255501%02d", i)}},
				Provider:     model.TierPrimary,
				ProviderName: "batchdata",
				CostCents:    25,
				ResolvedAt:   time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM enrichment_results WHERE lead_id = 'L1'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLite_GetCurrentBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"L1", "L3"} {
		require.NoError(t, st.UpsertResult(ctx, &model.EnrichmentResult{
			LeadID: id, Provider: model.TierSecondary, ProviderName: "skipgenie", CostCents: 10, ResolvedAt: time.Now(),
		}))
	}

	got, err := st.GetCurrentBatch(ctx, []string{"L1", "L2", "L3"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "L1")
	assert.NotContains(t, got, "L2")
	assert.Contains(t, got, "L3")
}

func TestSQLite_ProviderCalls_ListAndSum(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	calls := []model.ProviderCall{
		{RunID: "r1", LeadID: "L1", Provider: "batchdata", Tier: model.TierPrimary, CostCents: 0, ErrorReason: "timeout", CalledAt: base.Add(-25 * time.Hour)},
		{RunID: "r1", LeadID: "L1", Provider: "skipgenie", Tier: model.TierSecondary, CostCents: 10, Succeeded: true, CalledAt: base},
		{RunID: "r2", LeadID: "L2", Provider: "batchdata", Tier: model.TierPrimary, CostCents: 25, Succeeded: true, CalledAt: base.Add(time.Hour)},
	}
	for i := range calls {
		require.NoError(t, st.RecordProviderCall(ctx, &calls[i]))
		assert.NotZero(t, calls[i].ID)
	}

	all, err := st.ListProviderCalls(ctx, CallFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "timeout", all[0].ErrorReason)
	assert.True(t, all[1].Succeeded)
	assert.Equal(t, model.TierSecondary, all[1].Tier)

	r1, err := st.ListProviderCalls(ctx, CallFilter{RunID: "r1", LeadID: "L1"})
	require.NoError(t, err)
	assert.Len(t, r1, 2)

	windowed, err := st.ListProviderCalls(ctx, CallFilter{From: base, To: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, "skipgenie", windowed[0].Provider)

	sum, err := st.SumCallCost(ctx, base.Add(-time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(35), sum)
}

func TestSQLite_ProviderCalls_AppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	call := &model.ProviderCall{RunID: "r1", LeadID: "L1", Provider: "batchdata", Tier: model.TierPrimary, CostCents: 25, Succeeded: true}
	require.NoError(t, st.RecordProviderCall(ctx, call))

	_, err := st.db.ExecContext(ctx, `UPDATE provider_calls SET cost_cents = 0 WHERE id = ?`, call.ID)
	assert.Error(t, err)
	_, err = st.db.ExecContext(ctx, `DELETE FROM provider_calls WHERE id = ?`, call.ID)
	assert.Error(t, err)
}

// --- Runs ---

func newTestRun(t *testing.T, st Store, id string, leadIDs ...string) *model.Run {
	t.Helper()
	run := &model.Run{ID: id, SourceLabel: "test", StartedAt: time.Now()}
	require.NoError(t, st.CreateRun(context.Background(), run, leadIDs))
	return run
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestRun(t, st, "r1", "L1", "L2", "L2")

	run, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "test", run.SourceLabel)
	assert.False(t, run.Finished())
	assert.False(t, run.SoftPaused)

	counts, err := st.CountItems(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemCounts{Total: 2, Queued: 2}, counts)

	_, err = st.GetRun(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_TransitionItem_Monotonic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestRun(t, st, "r1", "L1")

	// queued -> done skips in_flight.
	err := st.TransitionItem(ctx, "r1", "L1", model.ItemDone, "")
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	require.NoError(t, st.TransitionItem(ctx, "r1", "L1", model.ItemInFlight, ""))
	require.NoError(t, st.TransitionItem(ctx, "r1", "L1", model.ItemFailed, "budget_exceeded"))

	// Terminal states never move again.
	err = st.TransitionItem(ctx, "r1", "L1", model.ItemDone, "")
	assert.True(t, eris.Is(err, ErrInvalidTransition))
	err = st.TransitionItem(ctx, "r1", "L1", model.ItemQueued, "")
	assert.True(t, eris.Is(err, ErrInvalidTransition))

	items, err := st.ListRunItems(ctx, "r1", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ItemFailed, items[0].Status)
	assert.Equal(t, "budget_exceeded", items[0].LastError)

	err = st.TransitionItem(ctx, "r1", "nope", model.ItemInFlight, "")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListRunItems_ByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestRun(t, st, "r1", "L2", "L1", "L3")
	require.NoError(t, st.TransitionItem(ctx, "r1", "L3", model.ItemInFlight, ""))

	queued, err := st.ListRunItems(ctx, "r1", model.ItemQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "L1", queued[0].LeadID)
	assert.Equal(t, "L2", queued[1].LeadID)

	counts, err := st.CountItems(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemCounts{Total: 3, Queued: 2, InFlight: 1}, counts)
}

func TestSQLite_FinishRun_Immutable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestRun(t, st, "r1", "L1")

	require.NoError(t, st.SetSoftPaused(ctx, "r1"))
	require.NoError(t, st.SetSoftPaused(ctx, "r1"))
	require.NoError(t, st.FinishRun(ctx, "r1", time.Now()))

	run, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, run.Finished())
	assert.True(t, run.SoftPaused)

	assert.True(t, eris.Is(st.FinishRun(ctx, "r1", time.Now()), ErrRunFinished))
	assert.True(t, eris.Is(st.SetSoftPaused(ctx, "r1"), ErrRunFinished))
	assert.True(t, eris.Is(st.TransitionItem(ctx, "r1", "L1", model.ItemInFlight, ""), ErrInvalidTransition))
	assert.True(t, eris.Is(st.FinishRun(ctx, "missing", time.Now()), ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, label := range []string{"march-import", "single", "march-import"} {
		run := &model.Run{ID: fmt.Sprintf("r%d", i), SourceLabel: label, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, st.CreateRun(ctx, run, []string{"L1"}))
	}
	require.NoError(t, st.FinishRun(ctx, "r0", time.Now()))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r2", all[0].ID)

	labelled, err := st.ListRuns(ctx, RunFilter{SourceLabel: "march-import"})
	require.NoError(t, err)
	assert.Len(t, labelled, 2)

	open, err := st.ListRuns(ctx, RunFilter{Unfinished: true})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r1", page[0].ID)
}

// --- Reports ---

func TestSQLite_SaveReport_FirstWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	newTestRun(t, st, "r1", "L1")

	missing, err := st.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.SaveReport(ctx, &model.RunReport{RunID: "r1", SourceLabel: "first", PhoneHitRate: 0.5}))
	require.NoError(t, st.SaveReport(ctx, &model.RunReport{RunID: "r1", SourceLabel: "second"}))

	got, err := st.GetReport(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first", got.SourceLabel)
	assert.InDelta(t, 0.5, got.PhoneHitRate, 1e-9)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", sqliteDSN("a.db"))
	assert.Contains(t, sqliteDSN("a.db?mode=ro"), "a.db?mode=ro&_pragma=")
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", sqliteDSN("a.db?_pragma=foreign_keys(0)"))
}
