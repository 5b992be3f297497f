package main

import (
	"encoding/csv"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/db"
	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load CSV exports into the store",
	Long: `Ingest loads marketplace exports into the trial, revenue, product, and
benchmark tables. Trial and revenue loads are idempotent on the row ID, so
re-running an overlapping export is safe.

Examples:
  ingest trials trials_2026-08.csv
  ingest revenue settlements.csv
  ingest products catalog.csv
  ingest benchmark benchmark_keywords.csv`,
}

var ingestTrialsCmd = &cobra.Command{
	Use:   "trials <file.csv>",
	Short: "Load listing trial results",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestTrials,
}

var ingestRevenueCmd = &cobra.Command{
	Use:   "revenue <file.csv>",
	Short: "Load settled revenue records",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestRevenue,
}

var ingestProductsCmd = &cobra.Command{
	Use:   "products <file.csv>",
	Short: "Bulk-load the product catalog (postgres only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestProducts,
}

var ingestBenchmarkCmd = &cobra.Command{
	Use:   "benchmark <file.csv>",
	Short: "Seed the benchmark keyword catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestBenchmark,
}

func init() {
	ingestCmd.AddCommand(ingestTrialsCmd, ingestRevenueCmd, ingestProductsCmd, ingestBenchmarkCmd)
	rootCmd.AddCommand(ingestCmd)
}

// csvTable is a parsed CSV with header-based column lookup.
type csvTable struct {
	cols map[string]int
	rows [][]string
}

func readCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read header of %s", path)
	}

	t := &csvTable{cols: make(map[string]int, len(header))}
	for i, h := range header {
		t.cols[h] = i
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", path)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func (t *csvTable) get(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (t *csvTable) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.cols[c]; !ok {
			return eris.Errorf("ingest: missing required column %q", c)
		}
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Errorf("ingest: unparseable timestamp %q", s)
	}
	return ts, nil
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func runIngestTrials(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("ingest"); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "ingest"))

	table, err := readCSV(args[0])
	if err != nil {
		return err
	}
	if err := table.require("category_code", "product_id", "success"); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	trials := make([]model.ListingTrial, 0, len(table.rows))
	for _, row := range table.rows {
		ts, err := parseTime(table.get(row, "created_at"))
		if err != nil {
			return err
		}
		trial := model.ListingTrial{
			ID:           table.get(row, "id"),
			CategoryCode: table.get(row, "category_code"),
			ProductID:    table.get(row, "product_id"),
			Marketplace:  table.get(row, "marketplace"),
			Success:      parseBool(table.get(row, "success")),
			ExactMatch:   parseBool(table.get(row, "exact_match")),
			FallbackUsed: parseBool(table.get(row, "fallback_used")),
			CreatedAt:    ts,
		}
		if trial.ID == "" {
			trial.ID = uuid.NewString()
		}
		if reason := table.get(row, "rejection_reason"); reason != "" {
			trial.RejectionReason = &reason
		}
		trials = append(trials, trial)
	}

	if pg, ok := st.(*store.PostgresStore); ok {
		rows := make([][]any, len(trials))
		for i, tr := range trials {
			rows[i] = []any{tr.ID, tr.CategoryCode, tr.ProductID, tr.Marketplace,
				tr.Success, tr.ExactMatch, tr.FallbackUsed, tr.RejectionReason, tr.CreatedAt}
		}
		up := db.Upsert{
			Table:   "listing_trials",
			Columns: []string{"id", "category_code", "product_id", "marketplace", "success", "exact_match", "fallback_used", "rejection_reason", "created_at"},
			Keys:    []string{"id"},
		}
		n, err := up.Run(ctx, pg.Pool(), rows)
		if err != nil {
			return err
		}
		log.Info("trials ingested", zap.Int64("rows", n), zap.String("file", args[0]))
		return nil
	}

	for _, tr := range trials {
		if err := st.RecordTrial(ctx, tr); err != nil {
			return err
		}
	}
	log.Info("trials ingested", zap.Int("rows", len(trials)), zap.String("file", args[0]))
	return nil
}

func runIngestRevenue(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("ingest"); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "ingest"))

	table, err := readCSV(args[0])
	if err != nil {
		return err
	}
	if err := table.require("category_code", "revenue", "cost"); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	records := make([]model.RevenueRecord, 0, len(table.rows))
	for _, row := range table.rows {
		ts, err := parseTime(table.get(row, "created_at"))
		if err != nil {
			return err
		}
		revenue, err := strconv.ParseFloat(table.get(row, "revenue"), 64)
		if err != nil {
			return eris.Errorf("ingest: bad revenue value %q", table.get(row, "revenue"))
		}
		cost, err := strconv.ParseFloat(table.get(row, "cost"), 64)
		if err != nil {
			return eris.Errorf("ingest: bad cost value %q", table.get(row, "cost"))
		}
		rec := model.RevenueRecord{
			ID:           table.get(row, "id"),
			CategoryCode: table.get(row, "category_code"),
			Revenue:      revenue,
			Cost:         cost,
			CreatedAt:    ts,
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		records = append(records, rec)
	}

	if pg, ok := st.(*store.PostgresStore); ok {
		rows := make([][]any, len(records))
		for i, rec := range records {
			rows[i] = []any{rec.ID, rec.CategoryCode, rec.Revenue, rec.Cost, rec.CreatedAt}
		}
		up := db.Upsert{
			Table:   "revenue_records",
			Columns: []string{"id", "category_code", "revenue", "cost", "created_at"},
			Keys:    []string{"id"},
		}
		n, err := up.Run(ctx, pg.Pool(), rows)
		if err != nil {
			return err
		}
		log.Info("revenue ingested", zap.Int64("rows", n), zap.String("file", args[0]))
		return nil
	}

	for _, rec := range records {
		if err := st.RecordRevenue(ctx, rec); err != nil {
			return err
		}
	}
	log.Info("revenue ingested", zap.Int("rows", len(records)), zap.String("file", args[0]))
	return nil
}

func runIngestProducts(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("ingest"); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "ingest"))

	table, err := readCSV(args[0])
	if err != nil {
		return err
	}
	if err := table.require("category_code", "title"); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	pg, ok := st.(*store.PostgresStore)
	if !ok {
		return eris.New("ingest: product bulk load requires the postgres store")
	}

	rows := make([][]any, 0, len(table.rows))
	for _, row := range table.rows {
		ts, err := parseTime(table.get(row, "created_at"))
		if err != nil {
			return err
		}
		id := table.get(row, "id")
		if id == "" {
			id = uuid.NewString()
		}
		rows = append(rows, []any{id, table.get(row, "category_code"), table.get(row, "title"), ts})
	}

	n, err := db.CopyInto(ctx, pg.Pool(), "products",
		[]string{"id", "category_code", "title", "created_at"}, rows)
	if err != nil {
		return err
	}
	log.Info("products ingested", zap.Int64("rows", n), zap.String("file", args[0]))
	return nil
}

func runIngestBenchmark(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("ingest"); err != nil {
		return err
	}
	log := zap.L().With(zap.String("command", "ingest"))

	table, err := readCSV(args[0])
	if err != nil {
		return err
	}
	if err := table.require("keyword", "category_code"); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	byKeyword := make(map[string][]string)
	order := make([]string, 0)
	for _, row := range table.rows {
		kw := table.get(row, "keyword")
		if _, seen := byKeyword[kw]; !seen {
			order = append(order, kw)
		}
		byKeyword[kw] = append(byKeyword[kw], table.get(row, "category_code"))
	}

	for _, kw := range order {
		if err := st.SeedBenchmark(ctx, kw, byKeyword[kw]); err != nil {
			return eris.Wrapf(err, "ingest: seed benchmark %q", kw)
		}
	}
	log.Info("benchmark seeded",
		zap.Int("keywords", len(order)),
		zap.String("file", args[0]),
	)
	return nil
}
