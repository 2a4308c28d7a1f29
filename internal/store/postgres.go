package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/db"
	"github.com/sells-group/skiptrace/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	address    TEXT NOT NULL,
	phone      TEXT,
	email      TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_results (
	lead_id       TEXT PRIMARY KEY,
	phones        JSONB NOT NULL DEFAULT '[]',
	emails        JSONB NOT NULL DEFAULT '[]',
	provider      TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	cost_cents    BIGINT NOT NULL CHECK (cost_cents >= 0),
	resolved_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_calls (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL,
	lead_id      TEXT NOT NULL,
	provider     TEXT NOT NULL,
	tier         TEXT NOT NULL,
	cost_cents   BIGINT NOT NULL CHECK (cost_cents >= 0),
	succeeded    BOOLEAN NOT NULL,
	error_reason TEXT,
	called_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE OR REPLACE FUNCTION reject_provider_call_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'provider_calls is append-only';
END;
$$ LANGUAGE plpgsql;

DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'provider_calls_append_only') THEN
		CREATE TRIGGER provider_calls_append_only
			BEFORE UPDATE OR DELETE ON provider_calls
			FOR EACH ROW EXECUTE FUNCTION reject_provider_call_mutation();
	END IF;
END $$;

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source_label TEXT NOT NULL,
	force        BOOLEAN NOT NULL DEFAULT false,
	soft_paused  BOOLEAN NOT NULL DEFAULT false,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_items (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	lead_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	last_error TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, lead_id)
);

CREATE TABLE IF NOT EXISTS run_reports (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	report     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_provider_calls_called_at ON provider_calls(called_at);
CREATE INDEX IF NOT EXISTS idx_provider_calls_run_lead ON provider_calls(run_id, lead_id);
CREATE INDEX IF NOT EXISTS idx_run_items_status ON run_items(run_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Leads ---

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var (
		l            model.Lead
		phone, email *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, address, phone, email, updated_at FROM leads WHERE id = $1`, id,
	).Scan(&l.ID, &l.Address, &phone, &email, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	l.Phone, l.Email = deref(phone), deref(email)
	return &l, nil
}

func (s *PostgresStore) UpdateContactProjection(ctx context.Context, id, phone, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET
			phone = COALESCE(NULLIF($1, ''), phone),
			email = COALESCE(NULLIF($2, ''), email),
			updated_at = now()
		 WHERE id = $3`,
		phone, email, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact projection %s", id)
	}
	return checkTag(tag, "lead", id)
}

// UpsertLeads bulk-writes leads. Existing leads keep their contact
// projection; only the address is refreshed.
func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	seen := make(map[string]int, len(leads))
	rows := make([][]any, 0, len(leads))
	now := time.Now().UTC()
	for _, l := range leads {
		row := []any{l.ID, l.Address, nilIfEmpty(l.Phone), nilIfEmpty(l.Email), now}
		if i, ok := seen[l.ID]; ok {
			rows[i] = row
			continue
		}
		seen[l.ID] = len(rows)
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "leads",
		Columns:      []string{"id", "address", "phone", "email", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"address", "updated_at"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert leads")
	}
	return int(n), nil
}

// --- Ledger ---

const resultColumns = `lead_id, phones, emails, provider, provider_name, cost_cents, resolved_at`

func (s *PostgresStore) GetCurrent(ctx context.Context, leadID string) (*model.EnrichmentResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM enrichment_results WHERE lead_id = $1`, leadID,
	)
	r, err := scanPostgresResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get current result %s", leadID)
	}
	return r, nil
}

func (s *PostgresStore) GetCurrentBatch(ctx context.Context, leadIDs []string) (map[string]*model.EnrichmentResult, error) {
	out := make(map[string]*model.EnrichmentResult, len(leadIDs))
	if len(leadIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM enrichment_results WHERE lead_id = ANY($1)`, leadIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get current batch")
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanPostgresResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan current batch")
		}
		out[r.LeadID] = r
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate current batch")
}

func (s *PostgresStore) UpsertResult(ctx context.Context, r *model.EnrichmentResult) error {
	phones, emails, err := marshalContacts(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_results (`+resultColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (lead_id) DO UPDATE SET
			phones = EXCLUDED.phones,
			emails = EXCLUDED.emails,
			provider = EXCLUDED.provider,
			provider_name = EXCLUDED.provider_name,
			cost_cents = EXCLUDED.cost_cents,
			resolved_at = EXCLUDED.resolved_at`,
		r.LeadID, phones, emails, string(r.Provider), r.ProviderName, r.CostCents, r.ResolvedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert result %s", r.LeadID)
}

func (s *PostgresStore) RecordProviderCall(ctx context.Context, c *model.ProviderCall) error {
	if c.CalledAt.IsZero() {
		c.CalledAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO provider_calls (run_id, lead_id, provider, tier, cost_cents, succeeded, error_reason, called_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		c.RunID, c.LeadID, c.Provider, string(c.Tier), c.CostCents, c.Succeeded, nilIfEmpty(c.ErrorReason), c.CalledAt.UTC(),
	).Scan(&c.ID)
	return eris.Wrapf(err, "postgres: record provider call %s/%s", c.RunID, c.LeadID)
}

func (s *PostgresStore) ListProviderCalls(ctx context.Context, f CallFilter) ([]model.ProviderCall, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.RunID != "" {
		add("run_id = $%d", f.RunID)
	}
	if f.LeadID != "" {
		add("lead_id = $%d", f.LeadID)
	}
	if !f.From.IsZero() {
		add("called_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("called_at < $%d", f.To.UTC())
	}

	query := `SELECT id, run_id, lead_id, provider, tier, cost_cents, succeeded, error_reason, called_at FROM provider_calls`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY called_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list provider calls")
	}
	defer rows.Close()

	var calls []model.ProviderCall
	for rows.Next() {
		var (
			c      model.ProviderCall
			tier   string
			reason *string
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.LeadID, &c.Provider, &tier, &c.CostCents, &c.Succeeded, &reason, &c.CalledAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider call")
		}
		c.Tier = model.ProviderTier(tier)
		c.ErrorReason = deref(reason)
		calls = append(calls, c)
	}
	return calls, eris.Wrap(rows.Err(), "postgres: list provider calls iterate")
}

func (s *PostgresStore) SumCallCost(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0)::bigint FROM provider_calls WHERE called_at >= $1 AND called_at < $2`,
		from.UTC(), to.UTC(),
	).Scan(&total)
	return total, eris.Wrap(err, "postgres: sum call cost")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run, leadIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO runs (id, source_label, force, soft_paused, started_at) VALUES ($1, $2, $3, false, $4)`,
		run.ID, run.SourceLabel, run.Force, run.StartedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO run_items (run_id, lead_id, status, updated_at)
		 SELECT $1, unnest($2::text[]), $3, $4
		 ON CONFLICT DO NOTHING`,
		run.ID, leadIDs, string(model.ItemQueued), run.StartedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: insert run items %s", run.ID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit create run")
}

const runColumns = `id, source_label, force, soft_paused, started_at, finished_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID,
	).Scan(&r.ID, &r.SourceLabel, &r.Force, &r.SoftPaused, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, f RunFilter) ([]model.Run, error) {
	var (
		where []string
		args  []any
	)
	if f.SourceLabel != "" {
		args = append(args, f.SourceLabel)
		where = append(where, fmt.Sprintf("source_label = $%d", len(args)))
	}
	if f.Unfinished {
		where = append(where, "finished_at IS NULL")
	}
	if !f.StartedAfter.IsZero() {
		args = append(args, f.StartedAfter.UTC())
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY started_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.SourceLabel, &r.Force, &r.SoftPaused, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListRunItems(ctx context.Context, runID string, status model.ItemStatus) ([]model.RunItem, error) {
	query := `SELECT run_id, lead_id, status, last_error, updated_at FROM run_items WHERE run_id = $1`
	args := []any{runID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY lead_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list run items %s", runID)
	}
	defer rows.Close()

	var items []model.RunItem
	for rows.Next() {
		var (
			it      model.RunItem
			st      string
			lastErr *string
		)
		if err := rows.Scan(&it.RunID, &it.LeadID, &st, &lastErr, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run item")
		}
		it.Status = model.ItemStatus(st)
		it.LastError = deref(lastErr)
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list run items iterate")
}

func (s *PostgresStore) CountItems(ctx context.Context, runID string) (model.ItemCounts, error) {
	var counts model.ItemCounts
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM run_items WHERE run_id = $1 GROUP BY status`, runID,
	)
	if err != nil {
		return counts, eris.Wrapf(err, "postgres: count items %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st string
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return counts, eris.Wrap(err, "postgres: scan item count")
		}
		counts.Add(model.ItemStatus(st), int(n))
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count items iterate")
}

func (s *PostgresStore) TransitionItem(ctx context.Context, runID, leadID string, to model.ItemStatus, lastError string) error {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "postgres: no transition into %s", to)
	}
	from := make([]string, len(preds))
	for i, p := range preds {
		from[i] = string(p)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_items SET status = $1, last_error = $2, updated_at = now()
		 WHERE run_id = $3 AND lead_id = $4 AND status = ANY($5)
		 AND run_id IN (SELECT id FROM runs WHERE finished_at IS NULL)`,
		string(to), nilIfEmpty(lastError), runID, leadID, from,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition item %s/%s", runID, leadID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM run_items WHERE run_id = $1 AND lead_id = $2`, runID, leadID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: run item %s/%s", runID, leadID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read item status %s/%s", runID, leadID)
	}
	return eris.Wrapf(ErrInvalidTransition, "postgres: %s/%s %s -> %s", runID, leadID, current, to)
}

func (s *PostgresStore) SetSoftPaused(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET soft_paused = true WHERE id = $1 AND finished_at IS NULL`, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: soft pause run %s", runID)
	}
	return s.checkRunMutation(ctx, tag, runID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $1 WHERE id = $2 AND finished_at IS NULL`, at.UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	return s.checkRunMutation(ctx, tag, runID)
}

func (s *PostgresStore) checkRunMutation(ctx context.Context, tag pgconn.CommandTag, runID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return eris.Wrapf(ErrRunFinished, "postgres: run %s", runID)
}

// --- Reports ---

func (s *PostgresStore) SaveReport(ctx context.Context, report *model.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_reports (run_id, report) VALUES ($1, $2) ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, data,
	)
	return eris.Wrapf(err, "postgres: save report %s", report.RunID)
}

func (s *PostgresStore) GetReport(ctx context.Context, runID string) (*model.RunReport, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM run_reports WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", runID)
	}
	var r model.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &r, nil
}

func scanPostgresResult(row scannable) (*model.EnrichmentResult, error) {
	var (
		r              model.EnrichmentResult
		phones, emails []byte
		prov           string
	)
	if err := row.Scan(&r.LeadID, &phones, &emails, &prov, &r.ProviderName, &r.CostCents, &r.ResolvedAt); err != nil {
		return nil, err
	}
	r.Provider = model.ProviderTier(prov)
	if err := unmarshalContacts(&r, phones, emails); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
