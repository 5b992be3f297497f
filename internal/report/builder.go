// Package report builds the dashboard views over the policy engine: the
// grade distribution across observed categories, the drift/recovery event
// feed, and the failure-mode heatmap.
package report

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
	"github.com/kestrel-commerce/sourcing-cli/internal/store"
)

// CategoryEvaluator is the policy surface the builder fans out over.
type CategoryEvaluator interface {
	Evaluate(ctx context.Context, categoryCode string) (*model.PolicyEvaluation, error)
}

// EventLister reads the audit log; the store implements it.
type EventLister interface {
	ListEvents(ctx context.Context, filter store.EventFilter) ([]model.PolicyEvent, error)
}

// Builder assembles report views. Evaluation fan-out is bounded by the
// configured concurrency.
type Builder struct {
	stats       policy.StatsSource
	evaluator   CategoryEvaluator
	events      EventLister
	concurrency int
}

// NewBuilder creates a report builder.
func NewBuilder(stats policy.StatsSource, ev CategoryEvaluator, events EventLister, concurrency int) *Builder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Builder{stats: stats, evaluator: ev, events: events, concurrency: concurrency}
}

// DistributionEntry is one category's line in the grade distribution.
type DistributionEntry struct {
	CategoryCode string      `json:"category_code" yaml:"category_code"`
	Grade        model.Grade `json:"grade" yaml:"grade"`
	Score        float64     `json:"score" yaml:"score"`
	Reason       string      `json:"reason" yaml:"reason"`
	TotalTrials  int         `json:"total_trials" yaml:"total_trials"`
	ApprovalRate float64     `json:"approval_rate" yaml:"approval_rate"`
}

// Distribution is a point-in-time view of grades across every category with
// trials in the base window.
type Distribution struct {
	CoreCount     int                 `json:"core_count" yaml:"core_count"`
	TryCount      int                 `json:"try_count" yaml:"try_count"`
	ResearchCount int                 `json:"research_count" yaml:"research_count"`
	BlockCount    int                 `json:"block_count" yaml:"block_count"`
	Total         int                 `json:"total" yaml:"total"`
	Entries       []DistributionEntry `json:"entries" yaml:"entries"`
	WindowDays    int                 `json:"window_days" yaml:"window_days"`
	GeneratedAt   time.Time           `json:"generated_at" yaml:"generated_at"`
}

// GradeDistribution evaluates every observed category and buckets the
// results. Entries come back sorted by score descending.
func (b *Builder) GradeDistribution(ctx context.Context, windowDays int) (*Distribution, error) {
	windows, err := b.stats.AllWindows(ctx, windowDays, 0)
	if err != nil {
		return nil, eris.Wrap(err, "report: list categories")
	}

	dist := &Distribution{
		WindowDays:  windowDays,
		GeneratedAt: time.Now().UTC(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, w := range windows {
		w := w
		g.Go(func() error {
			ev, err := b.evaluator.Evaluate(gctx, w.CategoryCode)
			if err != nil {
				return err
			}
			mu.Lock()
			dist.Entries = append(dist.Entries, DistributionEntry{
				CategoryCode: w.CategoryCode,
				Grade:        ev.Grade,
				Score:        ev.Score,
				Reason:       ev.Reason,
				TotalTrials:  w.TotalTrials,
				ApprovalRate: w.ApprovalRate(),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "report: grade distribution")
	}

	sort.SliceStable(dist.Entries, func(i, j int) bool {
		return dist.Entries[i].Score > dist.Entries[j].Score
	})
	for _, e := range dist.Entries {
		switch e.Grade {
		case model.GradeCore:
			dist.CoreCount++
		case model.GradeTry:
			dist.TryCount++
		case model.GradeResearch:
			dist.ResearchCount++
		case model.GradeBlock:
			dist.BlockCount++
		}
	}
	dist.Total = len(dist.Entries)
	return dist, nil
}

// FeedItem is one event in the drift/recovery feed.
type FeedItem struct {
	CategoryCode string          `json:"category_code" yaml:"category_code"`
	EventType    model.EventType `json:"event_type" yaml:"event_type"`
	Severity     model.Severity  `json:"severity" yaml:"severity"`
	Multiplier   float64         `json:"multiplier" yaml:"multiplier"`
	Reason       string          `json:"reason" yaml:"reason"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
}

// Feed returns the recent policy events, newest first.
func (b *Builder) Feed(ctx context.Context, since time.Time, limit int) ([]FeedItem, error) {
	events, err := b.events.ListEvents(ctx, store.EventFilter{Since: since, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "report: event feed")
	}

	items := make([]FeedItem, 0, len(events))
	for _, ev := range events {
		items = append(items, FeedItem{
			CategoryCode: ev.CategoryCode,
			EventType:    ev.EventType,
			Severity:     ev.Severity,
			Multiplier:   ev.Multiplier,
			Reason:       ev.Reason,
			CreatedAt:    ev.CreatedAt,
		})
	}
	return items, nil
}

// HeatmapRow is one category's failure-mode profile.
type HeatmapRow struct {
	CategoryCode   string         `json:"category_code" yaml:"category_code"`
	Severity       model.Severity `json:"severity" yaml:"severity"`
	CriticalCount  int            `json:"critical_count" yaml:"critical_count"`
	WarningCount   int            `json:"warning_count" yaml:"warning_count"`
	TransientCount int            `json:"transient_count" yaml:"transient_count"`
	TotalFailures  int            `json:"total_failures" yaml:"total_failures"`
	PenaltyScore   float64        `json:"penalty_score" yaml:"penalty_score"`
	TopReasons     []string       `json:"top_reasons,omitempty" yaml:"top_reasons,omitempty"`
}

// FailureHeatmap classifies recent failures per category. Categories with no
// failures in the window are omitted. Rows come back ordered by critical
// count, then total failures.
func (b *Builder) FailureHeatmap(ctx context.Context, windowDays int) ([]HeatmapRow, error) {
	windows, err := b.stats.AllWindows(ctx, windowDays, 0)
	if err != nil {
		return nil, eris.Wrap(err, "report: list categories")
	}

	var rows []HeatmapRow
	for _, w := range windows {
		reasons, err := b.stats.FailureReasons(ctx, w.CategoryCode, windowDays)
		if err != nil {
			return nil, eris.Wrapf(err, "report: failures for %s", w.CategoryCode)
		}
		fa := policy.ClassifyFailures(w.CategoryCode, reasons)
		if fa.TotalFailures == 0 {
			continue
		}
		rows = append(rows, HeatmapRow{
			CategoryCode:   fa.CategoryCode,
			Severity:       fa.Severity,
			CriticalCount:  fa.CriticalCount,
			WarningCount:   fa.WarningCount,
			TransientCount: fa.TransientCount,
			TotalFailures:  fa.TotalFailures,
			PenaltyScore:   fa.PenaltyScore,
			TopReasons:     fa.TopReasons,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CriticalCount != rows[j].CriticalCount {
			return rows[i].CriticalCount > rows[j].CriticalCount
		}
		return rows[i].TotalFailures > rows[j].TotalFailures
	})
	return rows, nil
}
