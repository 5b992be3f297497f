package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/kestrel-commerce/sourcing-cli/internal/db"
	"github.com/kestrel-commerce/sourcing-cli/internal/model"
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

// preparedStatements lists queries to prepare on each new connection. Event
// reads and trial inserts dominate; every evaluation touches both.
var preparedStatements = map[string]string{
	"latest_operator_event": `SELECT id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, created_at FROM policy_events WHERE category_code = $1 AND event_type IN ('OPERATOR_UP', 'OPERATOR_DOWN') AND created_at > $2 ORDER BY created_at DESC LIMIT 1`,
	"record_trial":          `INSERT INTO listing_trials (id, category_code, product_id, marketplace, success, exact_match, fallback_used, rejection_reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"record_revenue":        `INSERT INTO revenue_records (id, category_code, revenue, cost, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"keyword_categories":    `SELECT DISTINCT category_code FROM products WHERE title ILIKE '%' || $1 || '%'`,
	"benchmark_categories":  `SELECT category_code FROM benchmark_catalog WHERE keyword = lower($1)`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// Pool returns the underlying database pool for subsystems that need direct
// query access (the windowed metrics aggregator).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS listing_trials (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	category_code    TEXT NOT NULL,
	product_id       TEXT NOT NULL,
	marketplace      TEXT NOT NULL DEFAULT '',
	success          BOOLEAN NOT NULL,
	exact_match      BOOLEAN NOT NULL DEFAULT false,
	fallback_used    BOOLEAN NOT NULL DEFAULT false,
	rejection_reason TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trials_category_created ON listing_trials(category_code, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_trials_created ON listing_trials(created_at);

CREATE TABLE IF NOT EXISTS revenue_records (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	category_code TEXT NOT NULL,
	revenue       DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_revenue_category_created ON revenue_records(category_code, created_at DESC);

CREATE TABLE IF NOT EXISTS products (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	category_code TEXT NOT NULL,
	title         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_code);
CREATE INDEX IF NOT EXISTS idx_products_title ON products(lower(title));

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
	multiplier            DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	reason                TEXT NOT NULL DEFAULT '',
	context               JSONB,
	policy_version        TEXT NOT NULL DEFAULT '',
	window_start          TIMESTAMPTZ NOT NULL,
	window_end            TIMESTAMPTZ NOT NULL,
	top_rejection_reasons JSONB,
	throttle_bucket       BIGINT NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_category_type_created ON policy_events(category_code, event_type, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uq_events_throttle_bucket ON policy_events(category_code, event_type, throttle_bucket);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// AppendEvent performs the throttled conditional insert. The WHERE NOT EXISTS
// guard enforces the trailing throttle window; the unique bucket index turns
// a concurrent duplicate into a no-op instead of a second row.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev model.PolicyEvent, throttle time.Duration) (bool, error) {
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
		return false, eris.Wrap(err, "postgres: marshal event context")
	}
	reasonsJSON, err := marshalNullable(ev.TopReasons)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal rejection reasons")
	}

	bucket := int64(0)
	if secs := int64(throttle.Seconds()); secs > 0 {
		bucket = ev.CreatedAt.Unix() / secs
	}
	cutoff := ev.CreatedAt.Add(-throttle)

	tag, err := s.pool.Exec(ctx, `
INSERT INTO policy_events
	(id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, throttle_bucket, created_at)
SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
WHERE NOT EXISTS (
	SELECT 1 FROM policy_events
	WHERE category_code = $2 AND event_type = $3 AND created_at > $14
)
ON CONFLICT (category_code, event_type, throttle_bucket) DO NOTHING`,
		ev.ID, ev.CategoryCode, string(ev.EventType), string(ev.Severity),
		ev.Multiplier, ev.Reason, contextJSON, ev.PolicyVersion,
		ev.WindowStart, ev.WindowEnd, reasonsJSON, bucket, ev.CreatedAt, cutoff,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: append %s event for %s", ev.EventType, ev.CategoryCode)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) LatestOperatorEvent(ctx context.Context, categoryCode string, since time.Time) (*model.PolicyEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, created_at FROM policy_events WHERE category_code = $1 AND event_type IN ('OPERATOR_UP', 'OPERATOR_DOWN') AND created_at > $2 ORDER BY created_at DESC LIMIT 1`,
		categoryCode, since,
	)

	ev, err := scanEvent(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest operator event for %s", categoryCode)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.PolicyEvent, error) {
	query := `SELECT id, category_code, event_type, severity, multiplier, reason, context, policy_version, window_start, window_end, top_rejection_reasons, created_at FROM policy_events WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CategoryCode != "" {
		query += fmt.Sprintf(` AND category_code = $%d`, argIdx)
		args = append(args, filter.CategoryCode)
		argIdx++
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query += fmt.Sprintf(` AND event_type = ANY($%d)`, argIdx)
		args = append(args, types)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.PolicyEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate events")
	}
	return events, nil
}

func (s *PostgresStore) RecordTrial(ctx context.Context, trial model.ListingTrial) error {
	if trial.ID == "" {
		trial.ID = uuid.New().String()
	}
	if trial.CreatedAt.IsZero() {
		trial.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listing_trials (id, category_code, product_id, marketplace, success, exact_match, fallback_used, rejection_reason, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trial.ID, trial.CategoryCode, trial.ProductID, trial.Marketplace,
		trial.Success, trial.ExactMatch, trial.FallbackUsed, trial.RejectionReason, trial.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record trial for %s", trial.CategoryCode)
}

func (s *PostgresStore) RecordRevenue(ctx context.Context, rec model.RevenueRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO revenue_records (id, category_code, revenue, cost, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.CategoryCode, rec.Revenue, rec.Cost, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record revenue for %s", rec.CategoryCode)
}

func (s *PostgresStore) CategoriesForKeyword(ctx context.Context, keyword string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT category_code FROM products WHERE title ILIKE '%' || $1 || '%'`,
		keyword,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: categories for keyword %q", keyword)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *PostgresStore) BenchmarkCategories(ctx context.Context, keyword string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category_code FROM benchmark_catalog WHERE keyword = lower($1)`,
		keyword,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: benchmark categories for %q", keyword)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *PostgresStore) SeedBenchmark(ctx context.Context, keyword string, categories []string) error {
	keyword = strings.ToLower(keyword)
	for _, cat := range categories {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO benchmark_catalog (keyword, category_code) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			keyword, cat,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: seed benchmark %q", keyword)
		}
	}
	return nil
}

// scanEvent scans one policy event row from either a pgx.Row or pgx.Rows.
func scanEvent(row pgx.Row) (*model.PolicyEvent, error) {
	var ev model.PolicyEvent
	var eventType, severity string
	var contextJSON, reasonsJSON []byte

	err := row.Scan(
		&ev.ID, &ev.CategoryCode, &eventType, &severity, &ev.Multiplier,
		&ev.Reason, &contextJSON, &ev.PolicyVersion,
		&ev.WindowStart, &ev.WindowEnd, &reasonsJSON, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.EventType = model.EventType(eventType)
	ev.Severity = model.Severity(severity)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &ev.Context); err != nil {
			return nil, eris.Wrap(err, "unmarshal event context")
		}
	}
	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &ev.TopReasons); err != nil {
			return nil, eris.Wrap(err, "unmarshal rejection reasons")
		}
	}
	return &ev, nil
}

func scanStrings(rows pgx.Rows) ([]string, error) {
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

// marshalNullable marshals v to JSON, returning nil for empty values so the
// column stays NULL instead of holding "null".
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
