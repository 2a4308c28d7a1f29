package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/skiptrace/internal/model"
)

// sqliteTimeLayout is fixed-width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// batchChunk bounds the number of bound parameters per IN (...) query.
const batchChunk = 500

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path. Pragmas are passed
// through the DSN so they apply to every pooled connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(1)",
	}, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	address    TEXT NOT NULL,
	phone      TEXT,
	email      TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_results (
	lead_id       TEXT PRIMARY KEY,
	phones        TEXT NOT NULL,
	emails        TEXT NOT NULL,
	provider      TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	cost_cents    INTEGER NOT NULL CHECK (cost_cents >= 0),
	resolved_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_calls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	lead_id      TEXT NOT NULL,
	provider     TEXT NOT NULL,
	tier         TEXT NOT NULL,
	cost_cents   INTEGER NOT NULL CHECK (cost_cents >= 0),
	succeeded    INTEGER NOT NULL,
	error_reason TEXT,
	called_at    TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS provider_calls_no_update BEFORE UPDATE ON provider_calls
BEGIN
	SELECT RAISE(ABORT, 'provider_calls is append-only');
END;

CREATE TRIGGER IF NOT EXISTS provider_calls_no_delete BEFORE DELETE ON provider_calls
BEGIN
	SELECT RAISE(ABORT, 'provider_calls is append-only');
END;

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source_label TEXT NOT NULL,
	force        INTEGER NOT NULL DEFAULT 0,
	soft_paused  INTEGER NOT NULL DEFAULT 0,
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS run_items (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	lead_id    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	last_error TEXT,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (run_id, lead_id)
);

CREATE TABLE IF NOT EXISTS run_reports (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id),
	report     TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_provider_calls_called_at ON provider_calls(called_at);
CREATE INDEX IF NOT EXISTS idx_provider_calls_run_lead ON provider_calls(run_id, lead_id);
CREATE INDEX IF NOT EXISTS idx_run_items_status ON run_items(run_id, status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Leads ---

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	var (
		l            model.Lead
		phone, email sql.NullString
		updated      string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, phone, email, updated_at FROM leads WHERE id = ?`, id,
	).Scan(&l.ID, &l.Address, &phone, &email, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	l.Phone, l.Email = phone.String, email.String
	l.UpdatedAt, err = parseSQLiteTime(updated)
	return &l, err
}

func (s *SQLiteStore) UpdateContactProjection(ctx context.Context, id, phone, email string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET
			phone = COALESCE(NULLIF(?, ''), phone),
			email = COALESCE(NULLIF(?, ''), email),
			updated_at = ?
		 WHERE id = ?`,
		phone, email, formatSQLiteTime(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact projection %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []model.Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert leads")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (id, address, phone, email, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert leads")
	}
	defer stmt.Close() //nolint:errcheck

	now := formatSQLiteTime(time.Now())
	for _, l := range leads {
		if _, err := stmt.ExecContext(ctx, l.ID, l.Address, nullString(l.Phone), nullString(l.Email), now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert lead %s", l.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert leads")
	}
	return len(leads), nil
}

// --- Ledger ---

func (s *SQLiteStore) GetCurrent(ctx context.Context, leadID string) (*model.EnrichmentResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT lead_id, phones, emails, provider, provider_name, cost_cents, resolved_at
		 FROM enrichment_results WHERE lead_id = ?`, leadID,
	)
	r, err := scanSQLiteResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get current result %s", leadID)
	}
	return r, nil
}

func (s *SQLiteStore) GetCurrentBatch(ctx context.Context, leadIDs []string) (map[string]*model.EnrichmentResult, error) {
	out := make(map[string]*model.EnrichmentResult, len(leadIDs))
	for start := 0; start < len(leadIDs); start += batchChunk {
		ids := leadIDs[start:min(start+batchChunk, len(leadIDs))]
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT lead_id, phones, emails, provider, provider_name, cost_cents, resolved_at
			 FROM enrichment_results WHERE lead_id IN (`+placeholders(len(ids))+`)`, args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: get current batch")
		}
		for rows.Next() {
			r, err := scanSQLiteResult(rows)
			if err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan current batch")
			}
			out[r.LeadID] = r
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate current batch")
		}
	}
	return out, nil
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, r *model.EnrichmentResult) error {
	phones, emails, err := marshalContacts(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_results (lead_id, phones, emails, provider, provider_name, cost_cents, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(lead_id) DO UPDATE SET
			phones = excluded.phones,
			emails = excluded.emails,
			provider = excluded.provider,
			provider_name = excluded.provider_name,
			cost_cents = excluded.cost_cents,
			resolved_at = excluded.resolved_at`,
		r.LeadID, phones, emails, string(r.Provider), r.ProviderName, r.CostCents, formatSQLiteTime(r.ResolvedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert result %s", r.LeadID)
}

func (s *SQLiteStore) RecordProviderCall(ctx context.Context, c *model.ProviderCall) error {
	if c.CalledAt.IsZero() {
		c.CalledAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_calls (run_id, lead_id, provider, tier, cost_cents, succeeded, error_reason, called_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.LeadID, c.Provider, string(c.Tier), c.CostCents, c.Succeeded, nullString(c.ErrorReason), formatSQLiteTime(c.CalledAt),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record provider call %s/%s", c.RunID, c.LeadID)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListProviderCalls(ctx context.Context, f CallFilter) ([]model.ProviderCall, error) {
	query := `SELECT id, run_id, lead_id, provider, tier, cost_cents, succeeded, error_reason, called_at
		FROM provider_calls WHERE 1=1`
	var args []any
	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, f.LeadID)
	}
	if !f.From.IsZero() {
		query += ` AND called_at >= ?`
		args = append(args, formatSQLiteTime(f.From))
	}
	if !f.To.IsZero() {
		query += ` AND called_at < ?`
		args = append(args, formatSQLiteTime(f.To))
	}
	query += ` ORDER BY called_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provider calls")
	}
	defer rows.Close() //nolint:errcheck

	var calls []model.ProviderCall
	for rows.Next() {
		var (
			c        model.ProviderCall
			tier     string
			reason   sql.NullString
			calledAt string
		)
		if err := rows.Scan(&c.ID, &c.RunID, &c.LeadID, &c.Provider, &tier, &c.CostCents, &c.Succeeded, &reason, &calledAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider call")
		}
		c.Tier = model.ProviderTier(tier)
		c.ErrorReason = reason.String
		if c.CalledAt, err = parseSQLiteTime(calledAt); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, eris.Wrap(rows.Err(), "sqlite: list provider calls iterate")
}

func (s *SQLiteStore) SumCallCost(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0) FROM provider_calls WHERE called_at >= ? AND called_at < ?`,
		formatSQLiteTime(from), formatSQLiteTime(to),
	).Scan(&total)
	return total, eris.Wrap(err, "sqlite: sum call cost")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run, leadIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create run")
	}
	defer tx.Rollback() //nolint:errcheck

	started := formatSQLiteTime(run.StartedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, source_label, force, soft_paused, started_at) VALUES (?, ?, ?, 0, ?)`,
		run.ID, run.SourceLabel, run.Force, started,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO run_items (run_id, lead_id, status, updated_at) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert run items")
	}
	defer stmt.Close() //nolint:errcheck

	for _, id := range leadIDs {
		if _, err := stmt.ExecContext(ctx, run.ID, id, string(model.ItemQueued), started); err != nil {
			return eris.Wrapf(err, "sqlite: insert run item %s/%s", run.ID, id)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit create run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_label, force, soft_paused, started_at, finished_at FROM runs WHERE id = ?`, runID,
	)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_label, force, soft_paused, started_at, finished_at FROM runs WHERE 1=1`
	var args []any
	if f.SourceLabel != "" {
		query += ` AND source_label = ?`
		args = append(args, f.SourceLabel)
	}
	if f.Unfinished {
		query += ` AND finished_at IS NULL`
	}
	if !f.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, formatSQLiteTime(f.StartedAfter))
	}
	query += ` ORDER BY started_at DESC, id`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListRunItems(ctx context.Context, runID string, status model.ItemStatus) ([]model.RunItem, error) {
	query := `SELECT run_id, lead_id, status, last_error, updated_at FROM run_items WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY lead_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list run items %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var items []model.RunItem
	for rows.Next() {
		var (
			it      model.RunItem
			st      string
			lastErr sql.NullString
			updated string
		)
		if err := rows.Scan(&it.RunID, &it.LeadID, &st, &lastErr, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run item")
		}
		it.Status = model.ItemStatus(st)
		it.LastError = lastErr.String
		if it.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list run items iterate")
}

func (s *SQLiteStore) CountItems(ctx context.Context, runID string) (model.ItemCounts, error) {
	var counts model.ItemCounts
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM run_items WHERE run_id = ? GROUP BY status`, runID,
	)
	if err != nil {
		return counts, eris.Wrapf(err, "sqlite: count items %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return counts, eris.Wrap(err, "sqlite: scan item count")
		}
		counts.Add(model.ItemStatus(st), n)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count items iterate")
}

func (s *SQLiteStore) TransitionItem(ctx context.Context, runID, leadID string, to model.ItemStatus, lastError string) error {
	preds := to.Predecessors()
	if len(preds) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "sqlite: no transition into %s", to)
	}
	args := []any{string(to), nullString(lastError), formatSQLiteTime(time.Now()), runID, leadID}
	for _, p := range preds {
		args = append(args, string(p))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_items SET status = ?, last_error = ?, updated_at = ?
		 WHERE run_id = ? AND lead_id = ? AND status IN (`+placeholders(len(preds))+`)
		 AND run_id IN (SELECT id FROM runs WHERE finished_at IS NULL)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition item %s/%s", runID, leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM run_items WHERE run_id = ? AND lead_id = ?`, runID, leadID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: run item %s/%s", runID, leadID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read item status %s/%s", runID, leadID)
	}
	return eris.Wrapf(ErrInvalidTransition, "sqlite: %s/%s %s -> %s", runID, leadID, current, to)
}

func (s *SQLiteStore) SetSoftPaused(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET soft_paused = 1 WHERE id = ? AND finished_at IS NULL`, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: soft pause run %s", runID)
	}
	return s.checkRunMutation(ctx, res, runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE id = ? AND finished_at IS NULL`,
		formatSQLiteTime(at), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return s.checkRunMutation(ctx, res, runID)
}

func (s *SQLiteStore) checkRunMutation(ctx context.Context, res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return eris.Wrapf(ErrRunFinished, "sqlite: run %s", runID)
}

// --- Reports ---

func (s *SQLiteStore) SaveReport(ctx context.Context, report *model.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_reports (run_id, report, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO NOTHING`,
		report.RunID, string(data), formatSQLiteTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: save report %s", report.RunID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*model.RunReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM run_reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", runID)
	}
	var r model.RunReport
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &r, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteResult(row scannable) (*model.EnrichmentResult, error) {
	var (
		r                    model.EnrichmentResult
		phones, emails, prov string
		resolved             string
	)
	if err := row.Scan(&r.LeadID, &phones, &emails, &prov, &r.ProviderName, &r.CostCents, &resolved); err != nil {
		return nil, err
	}
	r.Provider = model.ProviderTier(prov)
	if err := unmarshalContacts(&r, []byte(phones), []byte(emails)); err != nil {
		return nil, err
	}
	var err error
	r.ResolvedAt, err = parseSQLiteTime(resolved)
	return &r, err
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		r        model.Run
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.SourceLabel, &r.Force, &r.SoftPaused, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if r.StartedAt, err = parseSQLiteTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		t, err := parseSQLiteTime(finished.String)
		if err != nil {
			return nil, err
		}
		r.FinishedAt = &t
	}
	return &r, nil
}

func marshalContacts(r *model.EnrichmentResult) (string, string, error) {
	phones := r.Phones
	if phones == nil {
		phones = []model.Phone{}
	}
	emails := r.Emails
	if emails == nil {
		emails = []model.Email{}
	}
	p, err := json.Marshal(phones)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal phones")
	}
	e, err := json.Marshal(emails)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal emails")
	}
	return string(p), string(e), nil
}

func unmarshalContacts(r *model.EnrichmentResult, phones, emails []byte) error {
	if err := json.Unmarshal(phones, &r.Phones); err != nil {
		return eris.Wrap(err, "store: unmarshal phones")
	}
	if err := json.Unmarshal(emails, &r.Emails); err != nil {
		return eris.Wrap(err, "store: unmarshal emails")
	}
	return nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
