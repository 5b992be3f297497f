package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// CatalogSource resolves keywords to category codes. The store implements it;
// the benchmark catalog covers brand-new keywords with no internal history.
type CatalogSource interface {
	CategoriesForKeyword(ctx context.Context, keyword string) ([]string, error)
	BenchmarkCategories(ctx context.Context, keyword string) ([]string, error)
}

// Evaluator computes the sourcing grade for a category. Deterministic given
// the same underlying data; event throttling makes re-evaluation idempotent
// with respect to side effects.
type Evaluator struct {
	stats   StatsSource
	events  EventSink
	catalog CatalogSource
	drift   *DriftDetector
	cfg     Config
}

// NewEvaluator wires an Evaluator and its drift detector.
func NewEvaluator(stats StatsSource, events EventSink, catalog CatalogSource, cfg Config) *Evaluator {
	return &Evaluator{
		stats:   stats,
		events:  events,
		catalog: catalog,
		drift:   NewDriftDetector(stats, events, cfg),
		cfg:     cfg,
	}
}

// evalState is the accumulator the adjustment pipeline operates on. Each
// stage multiplies ar in place; er and fd are only touched by the staleness
// stage. That asymmetry follows the scoring formula as specified.
type evalState struct {
	category string
	base     *model.StatsWindow
	recent   *model.StatsWindow
	ar       float64
	er       float64
	fd       float64
	now      time.Time
}

// adjustment is one named stage of the multiplicative pipeline. Stages run
// in declaration order; ordering is part of the formula.
type adjustment struct {
	name  string
	apply func(ctx context.Context, st *evalState) error
}

func (e *Evaluator) adjustments() []adjustment {
	return []adjustment{
		{"staleness", e.applyStaleness},
		{"recent_performance", e.applyRecentPerformance},
		{"drift", e.applyDrift},
		{"operator", e.applyOperator},
	}
}

// Evaluate computes the grade and composite score for one category.
func (e *Evaluator) Evaluate(ctx context.Context, categoryCode string) (*model.PolicyEvaluation, error) {
	base, err := e.stats.Window(ctx, categoryCode, e.cfg.BaseWindowDays, 0)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: evaluate %s", categoryCode)
	}
	// Cold start: unseen categories are neither blocked nor favored.
	if base == nil {
		return &model.PolicyEvaluation{
			CategoryCode: categoryCode,
			Grade:        model.GradeResearch,
			Score:        e.cfg.ColdStartScore,
			Reason:       "new category, no data",
		}, nil
	}

	st := &evalState{
		category: categoryCode,
		base:     base,
		ar:       base.ApprovalRate(),
		er:       base.ExactRate(),
		fd:       base.FallbackDependency(),
		now:      time.Now().UTC(),
	}

	for _, adj := range e.adjustments() {
		if err := adj.apply(ctx, st); err != nil {
			return nil, eris.Wrapf(err, "policy: %s adjustment for %s", adj.name, categoryCode)
		}
	}

	roiScore, err := e.roiScore(ctx, categoryCode)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: evaluate %s", categoryCode)
	}

	// Hard gate on the adjusted ar and the unadjusted fd. Overrides every
	// other term, however favorable.
	if st.ar < e.cfg.HardGateMinAR {
		return e.result(categoryCode, base, model.GradeBlock, 0,
			fmt.Sprintf("hard gate: approval rate %.1f below %.0f", st.ar, e.cfg.HardGateMinAR)), nil
	}
	if st.fd > e.cfg.HardGateMaxFD {
		return e.result(categoryCode, base, model.GradeBlock, 0,
			fmt.Sprintf("hard gate: fallback dependency %.1f above %.0f", st.fd, e.cfg.HardGateMaxFD)), nil
	}

	if base.TotalTrials < e.cfg.MinSampleTrials {
		return e.result(categoryCode, base, model.GradeResearch, e.cfg.InsufficientScore, "insufficient data"), nil
	}

	score := st.ar*e.cfg.ARWeight +
		st.er*e.cfg.ERWeight +
		(100-st.fd)*e.cfg.FDWeight +
		roiScore*e.cfg.ROIWeight

	grade, reason := e.gradeFor(score)

	zap.L().Debug("policy: evaluated category",
		zap.String("category", categoryCode),
		zap.String("grade", string(grade)),
		zap.Float64("score", score),
		zap.Float64("adjusted_ar", st.ar),
		zap.Float64("roi_score", roiScore),
	)

	return e.result(categoryCode, base, grade, score, reason), nil
}

// applyStaleness discounts evidence older than the staleness horizon. Stale
// evidence is discounted, not discarded.
func (e *Evaluator) applyStaleness(_ context.Context, st *evalState) error {
	if st.base.LastSuccessAt == nil {
		return nil
	}
	staleCutoff := st.now.AddDate(0, 0, -e.cfg.StaleAfterDays)
	if st.base.LastSuccessAt.Before(staleCutoff) {
		st.ar *= e.cfg.StaleDecay
		st.er *= e.cfg.StaleDecay
	}
	return nil
}

// applyRecentPerformance handles the hysteresis pair: recovery needs more
// evidence (trials, rate, and diversity) than penalty does.
func (e *Evaluator) applyRecentPerformance(ctx context.Context, st *evalState) error {
	recent, err := e.stats.Window(ctx, st.category, e.cfg.RecentWindowDays, 0)
	if err != nil {
		return err
	}
	st.recent = recent
	if recent == nil {
		return nil
	}

	recentAR := recent.ApprovalRate()
	diverse := recent.UniqueProductCount >= e.cfg.RecoveryMinProducts ||
		recent.DaysDistributed >= e.cfg.RecoveryMinDays

	switch {
	case recent.TotalTrials >= e.cfg.RecoveryMinTrials && recentAR >= e.cfg.RecoveryMinAR && diverse:
		st.ar *= e.cfg.RecoveryMultiplier
		_, err = e.events.Append(ctx, EventRecord{
			CategoryCode: st.category,
			Type:         model.EventRecovery,
			Multiplier:   e.cfg.RecoveryMultiplier,
			Reason: fmt.Sprintf("recent approval rate %.1f%% across %d trials with distributed evidence",
				recentAR, recent.TotalTrials),
			Context: map[string]any{
				"recent_ar":       recentAR,
				"recent_trials":   recent.TotalTrials,
				"unique_products": recent.UniqueProductCount,
				"days":            recent.DaysDistributed,
			},
		})
		return err

	case recent.TotalTrials >= e.cfg.PenaltyMinTrials && recentAR < e.cfg.PenaltyMaxAR:
		reasons, err := e.stats.FailureReasons(ctx, st.category, e.cfg.RecentWindowDays)
		if err != nil {
			return err
		}
		fa := ClassifyFailures(st.category, reasons)
		st.ar *= fa.PenaltyScore

		_, err = e.events.Append(ctx, EventRecord{
			CategoryCode: st.category,
			Type:         model.EventPenalty,
			Multiplier:   fa.PenaltyScore,
			Severity:     fa.Severity,
			Reason: fmt.Sprintf("recent approval rate %.1f%% across %d trials (%d critical, %d warning, %d transient failures)",
				recentAR, recent.TotalTrials, fa.CriticalCount, fa.WarningCount, fa.TransientCount),
			Context: map[string]any{
				"recent_ar":     recentAR,
				"recent_trials": recent.TotalTrials,
			},
			TopReasons: fa.TopReasons,
		})
		return err
	}
	return nil
}

func (e *Evaluator) applyDrift(ctx context.Context, st *evalState) error {
	result, err := e.drift.Detect(ctx, st.category)
	if err != nil {
		return err
	}
	if !result.IsDrift {
		return nil
	}
	if result.Severity == model.SeverityCritical {
		st.ar *= e.cfg.DriftCriticalMultiplier
	} else {
		st.ar *= e.cfg.DriftWarningMultiplier
	}
	return nil
}

func (e *Evaluator) applyOperator(ctx context.Context, st *evalState) error {
	since := st.now.AddDate(0, 0, -e.cfg.OperatorLookbackDays)
	ev, err := e.events.LatestOperator(ctx, st.category, since)
	if err != nil {
		return err
	}
	if ev != nil {
		st.ar *= ev.Multiplier
	}
	return nil
}

// roiScore maps 90-day ROI into [0,100]. Absence of sales data is neutral:
// it must neither penalize nor reward.
func (e *Evaluator) roiScore(ctx context.Context, categoryCode string) (float64, error) {
	roi, revenue, err := e.stats.ROI(ctx, categoryCode, e.cfg.ROIWindowDays)
	if err != nil {
		return 0, err
	}
	if revenue <= 0 {
		return e.cfg.NeutralROIScore, nil
	}
	score := roi*e.cfg.ROIScale + e.cfg.ROIOffset
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

func (e *Evaluator) gradeFor(score float64) (model.Grade, string) {
	switch {
	case score >= e.cfg.CoreThreshold:
		return model.GradeCore, "strong approval and profitability, source aggressively"
	case score >= e.cfg.TryThreshold:
		return model.GradeTry, "viable with moderate confidence, source cautiously"
	case score >= e.cfg.ResearchThreshold:
		return model.GradeResearch, "weak signals, experimental sourcing only"
	default:
		return model.GradeBlock, "composite score below research threshold"
	}
}

func (e *Evaluator) result(categoryCode string, details *model.StatsWindow, grade model.Grade, score float64, reason string) *model.PolicyEvaluation {
	return &model.PolicyEvaluation{
		CategoryCode: categoryCode,
		Grade:        grade,
		Score:        score,
		Reason:       reason,
		Details:      details,
	}
}

// EvaluateKeyword maps a keyword to its matching categories, evaluates each,
// and combines: the maximum score, minus a flat penalty when any matched
// category is blocked, re-thresholded into a grade.
func (e *Evaluator) EvaluateKeyword(ctx context.Context, keyword string) (*model.PolicyEvaluation, error) {
	categories, err := e.catalog.CategoriesForKeyword(ctx, keyword)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: evaluate keyword %q", keyword)
	}
	if len(categories) == 0 {
		categories, err = e.catalog.BenchmarkCategories(ctx, keyword)
		if err != nil {
			return nil, eris.Wrapf(err, "policy: benchmark lookup for %q", keyword)
		}
	}
	if len(categories) == 0 {
		return &model.PolicyEvaluation{
			CategoryCode: "",
			Grade:        model.GradeResearch,
			Score:        e.cfg.ColdStartScore,
			Reason:       fmt.Sprintf("no category match for keyword %q", keyword),
		}, nil
	}

	var (
		best     *model.PolicyEvaluation
		anyBlock bool
	)
	for _, cat := range categories {
		ev, err := e.Evaluate(ctx, cat)
		if err != nil {
			return nil, err
		}
		if ev.Grade == model.GradeBlock {
			anyBlock = true
		}
		if best == nil || ev.Score > best.Score {
			best = ev
		}
	}

	score := best.Score
	if anyBlock {
		score -= e.cfg.KeywordBlockPenalty
		if score < 0 {
			score = 0
		}
	}
	grade, reason := e.gradeFor(score)

	return &model.PolicyEvaluation{
		CategoryCode: best.CategoryCode,
		Grade:        grade,
		Score:        score,
		Reason:       fmt.Sprintf("keyword %q via category %s: %s", keyword, best.CategoryCode, reason),
		Details:      best.Details,
	}, nil
}
