// Package policy implements the adaptive category sourcing policy engine:
// windowed approval statistics, failure classification, drift detection, the
// layered scoring evaluator, the throttled event log, and the action mapper.
package policy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// Version tags every emitted event with the scoring formula revision.
const Version = "v2.3"

// Config holds every tunable of the scoring pipeline. Defaults mirror the
// production policy; overrides come from the policy section of the config
// file.
type Config struct {
	// Windows (days).
	BaseWindowDays   int `yaml:"base_window_days" mapstructure:"base_window_days"`
	RecentWindowDays int `yaml:"recent_window_days" mapstructure:"recent_window_days"`
	DriftWindowDays  int `yaml:"drift_window_days" mapstructure:"drift_window_days"`
	ROIWindowDays    int `yaml:"roi_window_days" mapstructure:"roi_window_days"`

	// Staleness decay.
	StaleAfterDays int     `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	StaleDecay     float64 `yaml:"stale_decay" mapstructure:"stale_decay"`

	// Recovery. Recovery requires more evidence than penalty.
	RecoveryMinTrials   int     `yaml:"recovery_min_trials" mapstructure:"recovery_min_trials"`
	RecoveryMinAR       float64 `yaml:"recovery_min_ar" mapstructure:"recovery_min_ar"`
	RecoveryMinProducts int     `yaml:"recovery_min_products" mapstructure:"recovery_min_products"`
	RecoveryMinDays     int     `yaml:"recovery_min_days" mapstructure:"recovery_min_days"`
	RecoveryMultiplier  float64 `yaml:"recovery_multiplier" mapstructure:"recovery_multiplier"`

	// Penalty.
	PenaltyMinTrials int     `yaml:"penalty_min_trials" mapstructure:"penalty_min_trials"`
	PenaltyMaxAR     float64 `yaml:"penalty_max_ar" mapstructure:"penalty_max_ar"`

	// Drift.
	DriftMinTrials          int     `yaml:"drift_min_trials" mapstructure:"drift_min_trials"`
	DriftVelocityThreshold  float64 `yaml:"drift_velocity_threshold" mapstructure:"drift_velocity_threshold"`
	DriftCriticalVelocity   float64 `yaml:"drift_critical_velocity" mapstructure:"drift_critical_velocity"`
	DriftWarningMultiplier  float64 `yaml:"drift_warning_multiplier" mapstructure:"drift_warning_multiplier"`
	DriftCriticalMultiplier float64 `yaml:"drift_critical_multiplier" mapstructure:"drift_critical_multiplier"`

	// Operator override.
	OperatorLookbackDays   int     `yaml:"operator_lookback_days" mapstructure:"operator_lookback_days"`
	OperatorUpMultiplier   float64 `yaml:"operator_up_multiplier" mapstructure:"operator_up_multiplier"`
	OperatorDownMultiplier float64 `yaml:"operator_down_multiplier" mapstructure:"operator_down_multiplier"`

	// Hard gate.
	HardGateMinAR float64 `yaml:"hard_gate_min_ar" mapstructure:"hard_gate_min_ar"`
	HardGateMaxFD float64 `yaml:"hard_gate_max_fd" mapstructure:"hard_gate_max_fd"`

	// Minimum-sample guard.
	MinSampleTrials int `yaml:"min_sample_trials" mapstructure:"min_sample_trials"`

	// Composite weights (sum = 1.0).
	ARWeight  float64 `yaml:"ar_weight" mapstructure:"ar_weight"`
	ERWeight  float64 `yaml:"er_weight" mapstructure:"er_weight"`
	FDWeight  float64 `yaml:"fd_weight" mapstructure:"fd_weight"`
	ROIWeight float64 `yaml:"roi_weight" mapstructure:"roi_weight"`

	// Grade thresholds.
	CoreThreshold     float64 `yaml:"core_threshold" mapstructure:"core_threshold"`
	TryThreshold      float64 `yaml:"try_threshold" mapstructure:"try_threshold"`
	ResearchThreshold float64 `yaml:"research_threshold" mapstructure:"research_threshold"`

	// Keyword evaluation.
	KeywordBlockPenalty float64 `yaml:"keyword_block_penalty" mapstructure:"keyword_block_penalty"`

	// Fixed neutral scores.
	ColdStartScore        float64 `yaml:"cold_start_score" mapstructure:"cold_start_score"`
	InsufficientScore     float64 `yaml:"insufficient_score" mapstructure:"insufficient_score"`
	NeutralROIScore       float64 `yaml:"neutral_roi_score" mapstructure:"neutral_roi_score"`
	ROIScale              float64 `yaml:"roi_scale" mapstructure:"roi_scale"`
	ROIOffset             float64 `yaml:"roi_offset" mapstructure:"roi_offset"`

	// Event throttling.
	ThrottleWindow      time.Duration `yaml:"throttle_window" mapstructure:"throttle_window"`
	DriftThrottleWindow time.Duration `yaml:"drift_throttle_window" mapstructure:"drift_throttle_window"`
}

// DefaultConfig returns the production policy parameters.
func DefaultConfig() Config {
	return Config{
		BaseWindowDays:   365,
		RecentWindowDays: 7,
		DriftWindowDays:  3,
		ROIWindowDays:    90,

		StaleAfterDays: 90,
		StaleDecay:     0.7,

		RecoveryMinTrials:   5,
		RecoveryMinAR:       75,
		RecoveryMinProducts: 3,
		RecoveryMinDays:     2,
		RecoveryMultiplier:  1.1,

		PenaltyMinTrials: 3,
		PenaltyMaxAR:     40,

		DriftMinTrials:          10,
		DriftVelocityThreshold:  -15,
		DriftCriticalVelocity:   -30,
		DriftWarningMultiplier:  0.8,
		DriftCriticalMultiplier: 0.5,

		OperatorLookbackDays:   7,
		OperatorUpMultiplier:   1.2,
		OperatorDownMultiplier: 0.8,

		HardGateMinAR: 40,
		HardGateMaxFD: 80,

		MinSampleTrials: 5,

		ARWeight:  0.4,
		ERWeight:  0.2,
		FDWeight:  0.1,
		ROIWeight: 0.3,

		CoreThreshold:     70,
		TryThreshold:      55,
		ResearchThreshold: 40,

		KeywordBlockPenalty: 10,

		ColdStartScore:    50,
		InsufficientScore: 45,
		NeutralROIScore:   50,
		ROIScale:          250,
		ROIOffset:         12.5,

		ThrottleWindow:      6 * time.Hour,
		DriftThrottleWindow: 12 * time.Hour,
	}
}

// Validate checks that a Config is internally consistent.
func (c Config) Validate() error {
	var errs []string

	if c.BaseWindowDays <= 0 || c.RecentWindowDays <= 0 || c.DriftWindowDays <= 0 || c.ROIWindowDays <= 0 {
		errs = append(errs, "all window day counts must be > 0")
	}
	if c.RecentWindowDays >= c.BaseWindowDays {
		errs = append(errs, "recent_window_days must be shorter than base_window_days")
	}
	if c.StaleDecay <= 0 || c.StaleDecay > 1 {
		errs = append(errs, "stale_decay must be in (0, 1]")
	}
	if c.RecoveryMultiplier < 1 {
		errs = append(errs, "recovery_multiplier must be >= 1")
	}
	if c.RecoveryMinAR <= c.PenaltyMaxAR {
		errs = append(errs, "recovery_min_ar must exceed penalty_max_ar (hysteresis)")
	}
	if c.DriftVelocityThreshold >= 0 || c.DriftCriticalVelocity >= 0 {
		errs = append(errs, "drift velocity thresholds must be negative")
	}
	if c.DriftCriticalVelocity > c.DriftVelocityThreshold {
		errs = append(errs, "drift_critical_velocity must be at or below drift_velocity_threshold")
	}
	for name, m := range map[string]float64{
		"drift_warning_multiplier":  c.DriftWarningMultiplier,
		"drift_critical_multiplier": c.DriftCriticalMultiplier,
		"operator_down_multiplier":  c.OperatorDownMultiplier,
	} {
		if m <= 0 || m > 1 {
			errs = append(errs, fmt.Sprintf("%s must be in (0, 1]", name))
		}
	}
	if c.OperatorUpMultiplier < 1 {
		errs = append(errs, "operator_up_multiplier must be >= 1")
	}

	sum := c.ARWeight + c.ERWeight + c.FDWeight + c.ROIWeight
	if math.Abs(sum-1.0) > 0.01 {
		errs = append(errs, fmt.Sprintf("composite weights should sum to 1.0, got %.3f", sum))
	}

	if !(c.CoreThreshold > c.TryThreshold && c.TryThreshold > c.ResearchThreshold && c.ResearchThreshold > 0) {
		errs = append(errs, "grade thresholds must satisfy core > try > research > 0")
	}
	if c.ThrottleWindow <= 0 || c.DriftThrottleWindow <= 0 {
		errs = append(errs, "throttle windows must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("policy: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// throttleFor returns the de-duplication window for an event type. Drift has
// its own, longer window.
func (c Config) throttleFor(eventType model.EventType) time.Duration {
	if eventType == model.EventDrift {
		return c.DriftThrottleWindow
	}
	return c.ThrottleWindow
}
