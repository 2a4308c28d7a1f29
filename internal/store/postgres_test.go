package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiptrace/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, address, phone, email, updated_at FROM leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLead(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	phone := "5125550100"

	mock.ExpectQuery(`SELECT id, address, phone, email, updated_at FROM leads`).
		WithArgs("L1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "address", "phone", "email", "updated_at"}).
			AddRow("L1", "1 Main St", &phone, nil, now))

	l, err := s.GetLead(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, "5125550100", l.Phone)
	assert.Empty(t, l.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCurrent_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT lead_id, phones, emails, provider, provider_name, cost_cents, resolved_at FROM enrichment_results WHERE lead_id = \$1`).
		WithArgs("L1").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.GetCurrent(context.Background(), "L1")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCurrent(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM enrichment_results WHERE lead_id = \$1`).
		WithArgs("L1").
		WillReturnRows(pgxmock.NewRows([]string{"lead_id", "phones", "emails", "provider", "provider_name", "cost_cents", "resolved_at"}).
			AddRow("L1", []byte(`[{"number":"5125550100","confidence":0.9,"is_dnc":false,"is_litigator":false}]`), []byte(`[]`), "primary", "batchdata", int64(25), now))

	r, err := s.GetCurrent(context.Background(), "L1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, model.TierPrimary, r.Provider)
	require.Len(t, r.Phones, 1)
	assert.Equal(t, "5125550100", r.Phones[0].Number)
	assert.Empty(t, r.Emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO enrichment_results .* ON CONFLICT \(lead_id\) DO UPDATE`).
		WithArgs("L1", `[]`, `[{"address":"a@example.com","confidence":0.4}]`, "free", "county-records", int64(0), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertResult(context.Background(), &model.EnrichmentResult{
		LeadID:       "L1",
		Emails:       []model.Email{{Address: "a@example.com", Confidence: 0.4}},
		Provider:     model.TierFree,
		ProviderName: "county-records",
		ResolvedAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordProviderCall(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO provider_calls .* RETURNING id`).
		WithArgs("r1", "L1", "batchdata", "primary", int64(0), false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	call := &model.ProviderCall{RunID: "r1", LeadID: "L1", Provider: "batchdata", Tier: model.TierPrimary, ErrorReason: "timeout"}
	require.NoError(t, s.RecordProviderCall(context.Background(), call))
	assert.Equal(t, int64(42), call.ID)
	assert.False(t, call.CalledAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SumCallCost(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost_cents\), 0\)::bigint FROM provider_calls`).
		WithArgs(from, to).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(135)))

	sum, err := s.SumCallCost(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(135), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProviderCalls_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM provider_calls WHERE run_id = \$1 AND lead_id = \$2 ORDER BY called_at, id`).
		WithArgs("r1", "L1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_id", "lead_id", "provider", "tier", "cost_cents", "succeeded", "error_reason", "called_at"}).
			AddRow(int64(1), "r1", "L1", "batchdata", "primary", int64(0), false, strPtr("http_503"), now).
			AddRow(int64(2), "r1", "L1", "skipgenie", "secondary", int64(10), true, nil, now))

	calls, err := s.ListProviderCalls(context.Background(), CallFilter{RunID: "r1", LeadID: "L1"})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "http_503", calls[0].ErrorReason)
	assert.Empty(t, calls[1].ErrorReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs("r1", "march-import", false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO run_items .* unnest\(\$2::text\[\]\)`).
		WithArgs("r1", []string{"L1", "L2"}, "queued", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.CreateRun(context.Background(), &model.Run{ID: "r1", SourceLabel: "march-import", StartedAt: started}, []string{"L1", "L2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionItem_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_items SET status = \$1`).
		WithArgs("done", pgxmock.AnyArg(), "r1", "L1", []string{"in_flight"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM run_items`).
		WithArgs("r1", "L1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("queued"))

	err := s.TransitionItem(context.Background(), "r1", "L1", model.ItemDone, "")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionItem_OK(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE run_items SET status = \$1`).
		WithArgs("in_flight", pgxmock.AnyArg(), "r1", "L1", []string{"queued"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.TransitionItem(context.Background(), "r1", "L1", model.ItemInFlight, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_AlreadyFinished(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	finished := time.Now()

	mock.ExpectExec(`UPDATE runs SET finished_at = \$1 WHERE id = \$2 AND finished_at IS NULL`).
		WithArgs(pgxmock.AnyArg(), "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT id, source_label, force, soft_paused, started_at, finished_at FROM runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_label", "force", "soft_paused", "started_at", "finished_at"}).
			AddRow("r1", "x", false, false, finished, &finished))

	err := s.FinishRun(context.Background(), "r1", time.Now())
	assert.True(t, eris.Is(err, ErrRunFinished))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountItems(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM run_items WHERE run_id = \$1 GROUP BY status`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("done", int64(3)).
			AddRow("failed", int64(1)))

	counts, err := s.CountItems(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemCounts{Total: 4, Done: 3, Failed: 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLeads_DedupesByID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "leads" .* ON CONFLICT \("id"\) DO UPDATE SET "address" = EXCLUDED."address", "updated_at" = EXCLUDED."updated_at"`).
		WithArgs("L1", "2 Oak Ave", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertLeads(context.Background(), []model.Lead{
		{ID: "L1", Address: "1 Main St"},
		{ID: "L1", Address: "2 Oak Ave"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT report FROM run_reports WHERE run_id = \$1`).
		WithArgs("r1").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.GetReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
