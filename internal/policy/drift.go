package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// DriftDetector compares two consecutive equal-length windows and flags a
// meaningful approval-rate decline. Sparse windows never fire: insufficient
// data is not drift.
type DriftDetector struct {
	stats  StatsSource
	events EventSink
	cfg    Config
}

// NewDriftDetector creates a DriftDetector.
func NewDriftDetector(stats StatsSource, events EventSink, cfg Config) *DriftDetector {
	return &DriftDetector{stats: stats, events: events, cfg: cfg}
}

// Detect runs the comparison for one category and, when drift fires, appends
// a DRIFT event (de-duplicated over the drift throttle window).
func (d *DriftDetector) Detect(ctx context.Context, categoryCode string) (model.DriftResult, error) {
	days := d.cfg.DriftWindowDays
	result := model.DriftResult{
		CategoryCode: categoryCode,
		Severity:     model.SeverityNone,
		WindowDays:   days,
	}

	current, err := d.stats.Window(ctx, categoryCode, days, 0)
	if err != nil {
		return result, eris.Wrap(err, "policy: drift current window")
	}
	previous, err := d.stats.Window(ctx, categoryCode, days, days)
	if err != nil {
		return result, eris.Wrap(err, "policy: drift previous window")
	}
	if current == nil || previous == nil {
		return result, nil
	}

	result.CurrentAR = current.ApprovalRate()
	result.PreviousAR = previous.ApprovalRate()
	result.CurrentTrials = current.TotalTrials
	result.Velocity = result.CurrentAR - result.PreviousAR

	if current.TotalTrials < d.cfg.DriftMinTrials || result.Velocity > d.cfg.DriftVelocityThreshold {
		return result, nil
	}

	result.IsDrift = true
	if result.Velocity <= d.cfg.DriftCriticalVelocity {
		result.Severity = model.SeverityCritical
	} else {
		result.Severity = model.SeverityWarning
	}

	multiplier := d.cfg.DriftWarningMultiplier
	if result.Severity == model.SeverityCritical {
		multiplier = d.cfg.DriftCriticalMultiplier
	}

	zap.L().Warn("policy: drift detected",
		zap.String("category", categoryCode),
		zap.Float64("velocity", result.Velocity),
		zap.String("severity", string(result.Severity)),
	)

	now := time.Now().UTC()
	_, err = d.events.Append(ctx, EventRecord{
		CategoryCode: categoryCode,
		Type:         model.EventDrift,
		Multiplier:   multiplier,
		Severity:     result.Severity,
		Reason: fmt.Sprintf("approval rate fell %.1f points over consecutive %d-day windows (%.1f%% -> %.1f%%)",
			-result.Velocity, days, result.PreviousAR, result.CurrentAR),
		Context: map[string]any{
			"velocity":       result.Velocity,
			"current_ar":     result.CurrentAR,
			"previous_ar":    result.PreviousAR,
			"current_trials": result.CurrentTrials,
		},
		WindowStart: now.AddDate(0, 0, -2*days),
		WindowEnd:   now,
	})
	if err != nil {
		return result, eris.Wrap(err, "policy: append drift event")
	}
	return result, nil
}
