package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests; production evaluation runs against Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS listing_trials (
	id               TEXT PRIMARY KEY,
	category_code    TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	marketplace      TEXT NOT NULL DEFAULT '',
	success          INTEGER NOT NULL,
	exact_match      INTEGER NOT NULL DEFAULT 0,
	fallback_used    INTEGER NOT NULL DEFAULT 0,
	rejection_reason TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_trials_category_created ON listing_trials(category_code, created_at);

CREATE TABLE IF NOT EXISTS revenue_records (
	id            TEXT PRIMARY KEY,
	category_code TEXT NOT NULL,
	revenue       REAL NOT NULL DEFAULT 0,
	cost          REAL NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id            TEXT PRIMARY KEY,
	category_code TEXT NOT NULL,
	title         TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS benchmark_catalog (
	keyword       TEXT NOT NULL,
	category_code TEXT NOT NULL,
	PRIMARY KEY (keyword, category_code)
);

CREATE TABLE IF NOT EXISTS policy_events (
	id                    TEXT PRIMARY KEY,
	category_code         TEXT NOT NULL,
	event_type            TEXT NOT NULL,
	severity              TEXT NOT NULL DEFAULT 'NONE',
	multiplier            REAL NOT NULL DEFAULT 1.0,
	reason                TEXT NOT NULL DEFAULT '',
	context               TEXT,
	policy_version        TEXT NOT NULL DEFAULT '',
	window_start          DATETIME NOT NULL,
	window_end            DATETIME NOT NULL,
	top_rejection_reasons TEXT,
	throttle_bucket       INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_category_type_created ON policy_events(category_code, event_type, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_events_throttle_bucket ON policy_events(category_code, event_type, throttle_bucket);
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

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.PolicyEvent, throttle time.Duration) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = model.SeverityNone
	}

	contextJSON, err := marshalNullable(ev.Context)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal event context")
	}
	reasonsJSON, err := marshalNullable(ev.TopReasons)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal rejection reasons")
	}

	bucket := int64(0)
	if secs := int64(throttle.Seconds()); secs > 0 {
		bucket = ev.CreatedAt.Unix() / secs
	}
	cutoff := ev.CreatedAt.Add(-throttle)

	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO policy_events
	(id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, throttle_bucket, created_at)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (
	SELECT 1 FROM policy_events
	WHERE category_code = ? AND event_type = ? AND created_at > ?
)`,
		ev.ID, ev.CategoryCode, string(ev.EventType), string(ev.Severity),
		ev.Multiplier, ev.Reason, nullableString(contextJSON), ev.PolicyVersion,
		ev.WindowStart, ev.WindowEnd, nullableString(reasonsJSON), bucket, ev.CreatedAt,
		ev.CategoryCode, string(ev.EventType), cutoff,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: append %s event for %s", ev.EventType, ev.CategoryCode)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) LatestOperatorEvent(ctx context.Context, categoryCode string, since time.Time) (*model.PolicyEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, created_at FROM policy_events WHERE category_code = ? AND event_type IN ('OPERATOR_UP', 'OPERATOR_DOWN') AND created_at > ? ORDER BY created_at DESC LIMIT 1`,
		categoryCode, since,
	)

	ev, err := scanSQLiteEvent(row.Scan)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest operator event for %s", categoryCode)
	}
	return ev, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.PolicyEvent, error) {
	query := `SELECT id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, created_at FROM policy_events WHERE 1=1`
	args := []any{}

	if filter.CategoryCode != "" {
		query += ` AND category_code = ?`
		args = append(args, filter.CategoryCode)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += fmt.Sprintf(` AND event_type IN (%s)`, strings.Join(placeholders, ", "))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.PolicyEvent
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate events")
	}
	return events, nil
}

func (s *SQLiteStore) RecordTrial(ctx context.Context, trial model.ListingTrial) error {
	if trial.ID == "" {
		trial.ID = uuid.New().String()
	}
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listing_trials (id, category_code, product_id, marketplace, success, exact_match, fallback_used, rejection_reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trial.ID, trial.CategoryCode, trial.ProductID, trial.Marketplace,
		trial.Success, trial.ExactMatch, trial.FallbackUsed, trial.RejectionReason, trial.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record trial for %s", trial.CategoryCode)
}

func (s *SQLiteStore) RecordRevenue(ctx context.Context, rec model.RevenueRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revenue_records (id, category_code, revenue, cost, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.CategoryCode, rec.Revenue, rec.Cost, rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record revenue for %s", rec.CategoryCode)
}

func (s *SQLiteStore) CategoriesForKeyword(ctx context.Context, keyword string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category_code FROM products WHERE lower(title) LIKE '%' || lower(?) || '%'`,
		keyword,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: categories for keyword %q", keyword)
	}
	defer rows.Close()
	return scanSQLiteStrings(rows)
}

func (s *SQLiteStore) BenchmarkCategories(ctx context.Context, keyword string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category_code FROM benchmark_catalog WHERE keyword = lower(?)`,
		keyword,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: benchmark categories for %q", keyword)
	}
	defer rows.Close()
	return scanSQLiteStrings(rows)
}

func (s *SQLiteStore) SeedBenchmark(ctx context.Context, keyword string, categories []string) error {
	keyword = strings.ToLower(keyword)
	for _, cat := range categories {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO benchmark_catalog (keyword, category_code) VALUES (?, ?)`,
			keyword, cat,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: seed benchmark %q", keyword)
		}
	}
	return nil
}

func scanSQLiteEvent(scan func(dest ...any) error) (*model.PolicyEvent, error) {
	var ev model.PolicyEvent
	var eventType, severity string
	var contextJSON, reasonsJSON sql.NullString

	err := scan(
		&ev.ID, &ev.CategoryCode, &eventType, &severity, &ev.Multiplier,
		&ev.Reason, &contextJSON, &ev.PolicyVersion,
		&ev.WindowStart, &ev.WindowEnd, &reasonsJSON, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.EventType = model.EventType(eventType)
	ev.Severity = model.Severity(severity)
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &ev.Context); err != nil {
			return nil, eris.Wrap(err, "unmarshal event context")
		}
	}
	if reasonsJSON.Valid && reasonsJSON.String != "" {
		if err := json.Unmarshal([]byte(reasonsJSON.String), &ev.TopReasons); err != nil {
			return nil, eris.Wrap(err, "unmarshal rejection reasons")
		}
	}
	return &ev, nil
}

func scanSQLiteStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, eris.Wrap(err, "scan string row")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate string rows")
	}
	return out, nil
}

// nullableString converts a possibly-nil JSON byte slice into a driver value
// that stays NULL when empty.
func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
