package policy

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kestrel-commerce/sourcing-cli/internal/db"
	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// StatsSource is the read surface the evaluator and drift detector consume.
// Aggregator implements it against Postgres; tests use in-memory fakes.
type StatsSource interface {
	// Window returns stats for one category over the trailing day-window
	// [now-offset-window, now-offset], or nil when the category has no
	// trials in that window.
	Window(ctx context.Context, categoryCode string, windowDays, offsetDays int) (*model.StatsWindow, error)

	// AllWindows returns one StatsWindow per category observed in the
	// window, sorted by descending approval rate. Categories with zero
	// trials never appear.
	AllWindows(ctx context.Context, windowDays, offsetDays int) ([]model.StatsWindow, error)

	// ROI returns the aggregate return-on-investment ratio and total revenue
	// for a category over the trailing day-window.
	ROI(ctx context.Context, categoryCode string, windowDays int) (roi, revenue float64, err error)

	// FailureReasons returns the free-text rejection reasons of failed
	// trials in the window. Records without a reason are omitted.
	FailureReasons(ctx context.Context, categoryCode string, windowDays int) ([]string, error)
}

// Aggregator derives windowed category statistics from raw listing trials.
// Nothing is materialized; every call re-aggregates.
type Aggregator struct {
	pool db.Pool
}

// NewAggregator creates an Aggregator over the given pool.
func NewAggregator(pool db.Pool) *Aggregator {
	return &Aggregator{pool: pool}
}

const windowStatsQuery = `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE success),
	COUNT(*) FILTER (WHERE success AND exact_match),
	COUNT(*) FILTER (WHERE success AND fallback_used),
	MAX(created_at) FILTER (WHERE success),
	COUNT(DISTINCT product_id),
	COUNT(DISTINCT created_at::date)
FROM listing_trials
WHERE category_code = $1 AND created_at >= $2 AND created_at < $3`

func (a *Aggregator) Window(ctx context.Context, categoryCode string, windowDays, offsetDays int) (*model.StatsWindow, error) {
	start, end := windowBounds(windowDays, offsetDays)

	w := model.StatsWindow{
		CategoryCode: categoryCode,
		WindowDays:   windowDays,
		OffsetDays:   offsetDays,
	}
	err := a.pool.QueryRow(ctx, windowStatsQuery, categoryCode, start, end).Scan(
		&w.TotalTrials, &w.SuccessCount, &w.ExactSuccessCount, &w.FallbackSuccesses,
		&w.LastSuccessAt, &w.UniqueProductCount, &w.DaysDistributed,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: window stats for %s", categoryCode)
	}
	if w.TotalTrials == 0 {
		return nil, nil
	}
	return &w, nil
}

const allWindowsQuery = `
SELECT
	category_code,
	COUNT(*),
	COUNT(*) FILTER (WHERE success),
	COUNT(*) FILTER (WHERE success AND exact_match),
	COUNT(*) FILTER (WHERE success AND fallback_used),
	MAX(created_at) FILTER (WHERE success),
	COUNT(DISTINCT product_id),
	COUNT(DISTINCT created_at::date)
FROM listing_trials
WHERE created_at >= $1 AND created_at < $2
GROUP BY category_code`

func (a *Aggregator) AllWindows(ctx context.Context, windowDays, offsetDays int) ([]model.StatsWindow, error) {
	start, end := windowBounds(windowDays, offsetDays)

	rows, err := a.pool.Query(ctx, allWindowsQuery, start, end)
	if err != nil {
		return nil, eris.Wrap(err, "policy: all window stats")
	}
	defer rows.Close()

	var windows []model.StatsWindow
	for rows.Next() {
		w := model.StatsWindow{WindowDays: windowDays, OffsetDays: offsetDays}
		err := rows.Scan(
			&w.CategoryCode, &w.TotalTrials, &w.SuccessCount, &w.ExactSuccessCount,
			&w.FallbackSuccesses, &w.LastSuccessAt, &w.UniqueProductCount, &w.DaysDistributed,
		)
		if err != nil {
			return nil, eris.Wrap(err, "policy: scan window stats")
		}
		if w.TotalTrials == 0 {
			continue
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "policy: iterate window stats")
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].ApprovalRate() > windows[j].ApprovalRate()
	})
	return windows, nil
}

const roiQuery = `
SELECT
	COALESCE(SUM(revenue), 0),
	CASE WHEN COALESCE(SUM(cost), 0) > 0
		THEN (SUM(revenue) - SUM(cost)) / SUM(cost)
		ELSE 0
	END
FROM revenue_records
WHERE category_code = $1 AND created_at >= $2`

func (a *Aggregator) ROI(ctx context.Context, categoryCode string, windowDays int) (float64, float64, error) {
	start, _ := windowBounds(windowDays, 0)

	var revenue, roi float64
	err := a.pool.QueryRow(ctx, roiQuery, categoryCode, start).Scan(&revenue, &roi)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "policy: roi for %s", categoryCode)
	}
	return roi, revenue, nil
}

const failureReasonsQuery = `
SELECT rejection_reason
FROM listing_trials
WHERE category_code = $1 AND NOT success AND rejection_reason IS NOT NULL
	AND created_at >= $2
ORDER BY created_at DESC`

func (a *Aggregator) FailureReasons(ctx context.Context, categoryCode string, windowDays int) ([]string, error) {
	start, _ := windowBounds(windowDays, 0)

	rows, err := a.pool.Query(ctx, failureReasonsQuery, categoryCode, start)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: failure reasons for %s", categoryCode)
	}
	defer rows.Close()

	var reasons []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, eris.Wrap(err, "policy: scan failure reason")
		}
		reasons = append(reasons, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "policy: iterate failure reasons")
	}
	return reasons, nil
}

func windowBounds(windowDays, offsetDays int) (time.Time, time.Time) {
	end := time.Now().UTC().AddDate(0, 0, -offsetDays)
	start := end.AddDate(0, 0, -windowDays)
	return start, end
}
