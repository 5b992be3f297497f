package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Upsert describes a bulk idempotent load into one table. Re-running an
// ingest over an overlapping export must not duplicate trial rows, so loads
// go through a temp table and INSERT ... ON CONFLICT instead of plain COPY.
type Upsert struct {
	Table      string   // target table, optionally schema-qualified
	Columns    []string // all columns being loaded
	Keys       []string // columns forming the unique constraint
	UpdateCols []string // columns to update on conflict; nil = all non-key columns
}

// Run performs the upsert inside a single transaction:
// temp table (LIKE target) -> COPY rows -> INSERT ... ON CONFLICT DO UPDATE.
func (u Upsert) Run(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(u.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns")
	}
	if len(u.Keys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys")
	}

	updateCols := u.UpdateCols
	if updateCols == nil {
		keySet := make(map[string]bool, len(u.Keys))
		for _, k := range u.Keys {
			keySet[k] = true
		}
		for _, c := range u.Columns {
			if !keySet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	temp := "_load_" + strings.ReplaceAll(u.Table, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(),
		tableIdent(u.Table).Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", u.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{temp}, u.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", u.Table)
	}

	cols := quoteJoin(u.Columns)
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		q := pgx.Identifier{c}.Sanitize()
		sets[i] = q + " = EXCLUDED." + q
	}

	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		tableIdent(u.Table).Sanitize(), cols, cols,
		pgx.Identifier{temp}.Sanitize(),
		quoteJoin(u.Keys),
		strings.Join(sets, ", "),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", u.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
