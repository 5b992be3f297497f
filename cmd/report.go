package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate grade, event, and failure reports",
	Long: `Report renders the current policy state for operators: the grade
distribution across all categories, the recent policy event feed, and the
failure heatmap.

Examples:
  report grades
  report grades --format csv --output grades.csv
  report grades --format xlsx --output grades.xlsx
  report feed --days 3 --limit 20
  report heatmap --window 7 --format csv`,
}

var reportGradesCmd = &cobra.Command{
	Use:   "grades",
	Short: "Grade distribution across all categories",
	RunE:  runReportGrades,
}

var reportFeedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Recent policy events",
	RunE:  runReportFeed,
}

var reportHeatmapCmd = &cobra.Command{
	Use:   "heatmap",
	Short: "Failure severity per category",
	RunE:  runReportHeatmap,
}

func init() {
	f := reportGradesCmd.Flags()
	f.Int("window", 0, "trailing window in days (default from policy config)")
	f.String("format", "table", "output format: table, csv, yaml, or xlsx")
	f.String("output", "", "output file path (default: stdout; required for xlsx)")

	f = reportFeedCmd.Flags()
	f.Int("days", 7, "how many days back to include")
	f.Int("limit", 50, "maximum number of events")

	f = reportHeatmapCmd.Flags()
	f.Int("window", 7, "trailing window in days")
	f.String("format", "table", "output format: table or csv")
	f.String("output", "", "output file path (default: stdout)")

	reportCmd.AddCommand(reportGradesCmd, reportFeedCmd, reportHeatmapCmd)
	rootCmd.AddCommand(reportCmd)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "report: create %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func runReportGrades(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("report"); err != nil {
		return err
	}

	window, _ := cmd.Flags().GetInt("window")
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	if window <= 0 {
		window = cfg.Policy.BaseWindowDays
	}

	env, err := initPolicyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	builder := report.NewBuilder(env.stats, env.evaluator, env.store, cfg.Report.Concurrency)

	dist, err := builder.GradeDistribution(ctx, window)
	if err != nil {
		return err
	}

	switch format {
	case "table":
		fmt.Printf("Grades over %dd: CORE %d, TRY %d, RESEARCH %d, BLOCK %d (%d categories)\n\n",
			dist.WindowDays, dist.CoreCount, dist.TryCount, dist.ResearchCount, dist.BlockCount, dist.Total)
		fmt.Printf("%-16s %-9s %7s %9s %8s\n", "CATEGORY", "GRADE", "SCORE", "APPROVAL", "TRIALS")
		for _, e := range dist.Entries {
			fmt.Printf("%-16s %-9s %7.2f %8.1f%% %8d\n",
				e.CategoryCode, e.Grade, e.Score, e.ApprovalRate, e.TotalTrials)
		}
	case "csv":
		w, done, err := openOutput(output)
		if err != nil {
			return err
		}
		defer done()
		if err := report.WriteCSV(w, dist); err != nil {
			return err
		}
	case "yaml":
		w, done, err := openOutput(output)
		if err != nil {
			return err
		}
		defer done()
		if err := report.WriteYAML(w, dist); err != nil {
			return err
		}
	case "xlsx":
		if output == "" {
			return eris.New("report: --output is required for xlsx")
		}
		if err := report.WriteXLSX(output, dist); err != nil {
			return err
		}
	default:
		return eris.Errorf("report: --format must be table, csv, yaml, or xlsx (got %q)", format)
	}

	zap.L().Info("grade report generated",
		zap.Int("categories", dist.Total),
		zap.String("format", format),
	)
	return nil
}

func runReportFeed(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("report"); err != nil {
		return err
	}

	days, _ := cmd.Flags().GetInt("days")
	limit, _ := cmd.Flags().GetInt("limit")

	env, err := initPolicyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	builder := report.NewBuilder(env.stats, env.evaluator, env.store, cfg.Report.Concurrency)

	since := time.Now().UTC().AddDate(0, 0, -days)
	items, err := builder.Feed(ctx, since, limit)
	if err != nil {
		return err
	}

	for _, it := range items {
		fmt.Printf("%s  %-16s %-18s %-8s x%.2f  %s\n",
			it.CreatedAt.Format("2006-01-02 15:04"),
			it.CategoryCode, it.EventType, it.Severity, it.Multiplier, it.Reason)
	}
	if len(items) == 0 {
		fmt.Printf("no events in the last %d days\n", days)
	}
	return nil
}

func runReportHeatmap(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("report"); err != nil {
		return err
	}

	window, _ := cmd.Flags().GetInt("window")
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	env, err := initPolicyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	builder := report.NewBuilder(env.stats, env.evaluator, env.store, cfg.Report.Concurrency)

	rows, err := builder.FailureHeatmap(ctx, window)
	if err != nil {
		return err
	}

	switch format {
	case "table":
		fmt.Printf("%-16s %-9s %9s %8s %10s %7s %8s\n",
			"CATEGORY", "SEVERITY", "CRITICAL", "WARNING", "TRANSIENT", "TOTAL", "PENALTY")
		for _, r := range rows {
			fmt.Printf("%-16s %-9s %9d %8d %10d %7d %8.2f\n",
				r.CategoryCode, r.Severity, r.CriticalCount, r.WarningCount,
				r.TransientCount, r.TotalFailures, r.PenaltyScore)
		}
	case "csv":
		w, done, err := openOutput(output)
		if err != nil {
			return err
		}
		defer done()
		if err := report.WriteHeatmapCSV(w, rows); err != nil {
			return err
		}
	default:
		return eris.Errorf("report: --format must be table or csv (got %q)", format)
	}
	return nil
}
