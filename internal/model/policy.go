// Package model defines the domain types shared across the sourcing policy
// engine: windowed category statistics, policy events, evaluations, and the
// action decisions handed to the registration pipeline.
package model

import "time"

// Grade is the sourcing grade assigned to a category.
type Grade string

const (
	GradeCore     Grade = "CORE"     // source aggressively
	GradeTry      Grade = "TRY"      // source cautiously
	GradeResearch Grade = "RESEARCH" // experimental only
	GradeBlock    Grade = "BLOCK"    // do not source
)

// EventType identifies the kind of policy event.
type EventType string

const (
	EventPenalty       EventType = "PENALTY"
	EventRecovery      EventType = "RECOVERY"
	EventDrift         EventType = "DRIFT"
	EventOperatorUp    EventType = "OPERATOR_UP"
	EventOperatorDown  EventType = "OPERATOR_DOWN"
	EventPivotApproved EventType = "STRATEGY_PIVOT_APPROVED"
)

// Severity classifies failure and drift conditions.
type Severity string

const (
	SeverityNone      Severity = "NONE"
	SeverityTransient Severity = "TRANSIENT"
	SeverityWarning   Severity = "WARNING"
	SeverityCritical  Severity = "CRITICAL"
)

// Mode is the enforcement mode for action decisions.
type Mode string

const (
	ModeShadow      Mode = "shadow"
	ModeEnforceLite Mode = "enforce_lite"
	ModeEnforce     Mode = "enforce"
)

// StatsWindow holds trial/success counts for one category over a trailing
// day-window, optionally offset into the past. Computed on demand, never
// persisted.
type StatsWindow struct {
	CategoryCode       string     `json:"category_code"`
	WindowDays         int        `json:"window_days"`
	OffsetDays         int        `json:"offset_days"`
	TotalTrials        int        `json:"total_trials"`
	SuccessCount       int        `json:"success_count"`
	ExactSuccessCount  int        `json:"exact_success_count"`
	FallbackSuccesses  int        `json:"fallback_success_count"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty"`
	UniqueProductCount int        `json:"unique_product_count"`
	DaysDistributed    int        `json:"days_distributed"`
}

// ApprovalRate returns successes over trials as a percentage in [0,100].
// Zero trials resolve to 0, never an error.
func (w StatsWindow) ApprovalRate() float64 {
	if w.TotalTrials == 0 {
		return 0
	}
	return float64(w.SuccessCount) / float64(w.TotalTrials) * 100
}

// ExactRate returns exact-category successes over trials as a percentage.
func (w StatsWindow) ExactRate() float64 {
	if w.TotalTrials == 0 {
		return 0
	}
	return float64(w.ExactSuccessCount) / float64(w.TotalTrials) * 100
}

// FallbackDependency returns fallback-path successes over all successes as a
// percentage. Zero successes resolve to 0.
func (w StatsWindow) FallbackDependency() float64 {
	if w.SuccessCount == 0 {
		return 0
	}
	return float64(w.FallbackSuccesses) / float64(w.SuccessCount) * 100
}

// FailureAnalysis is the classifier's verdict over recent failures for one
// category. Computed fresh per evaluation call.
type FailureAnalysis struct {
	CategoryCode   string   `json:"category_code"`
	Severity       Severity `json:"severity"`
	PenaltyScore   float64  `json:"penalty_score"`
	CriticalCount  int      `json:"critical_count"`
	WarningCount   int      `json:"warning_count"`
	TransientCount int      `json:"transient_count"`
	TotalFailures  int      `json:"total_failures"`
	TopReasons     []string `json:"top_rejection_reasons,omitempty"`
}

// DriftResult compares two consecutive equal-length windows for a category.
type DriftResult struct {
	CategoryCode  string   `json:"category_code"`
	IsDrift       bool     `json:"is_drift"`
	Severity      Severity `json:"severity"`
	Velocity      float64  `json:"velocity"` // current AR minus previous AR, percentage points
	CurrentAR     float64  `json:"current_ar"`
	PreviousAR    float64  `json:"previous_ar"`
	CurrentTrials int      `json:"current_trials"`
	WindowDays    int      `json:"window_days"`
}

// PolicyEvent is the persisted, append-only audit record. Created by the
// evaluator (PENALTY/RECOVERY/DRIFT) or the feedback intake (operator
// events); never updated or deleted.
type PolicyEvent struct {
	ID            string         `json:"id"`
	CategoryCode  string         `json:"category_code"`
	EventType     EventType      `json:"event_type"`
	Severity      Severity       `json:"severity"`
	Multiplier    float64        `json:"multiplier"`
	Reason        string         `json:"reason"`
	Context       map[string]any `json:"context,omitempty"`
	PolicyVersion string         `json:"policy_version"`
	WindowStart   time.Time      `json:"window_start"`
	WindowEnd     time.Time      `json:"window_end"`
	TopReasons    []string       `json:"top_rejection_reasons,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PolicyEvaluation is the evaluator's output for one category.
type PolicyEvaluation struct {
	CategoryCode string       `json:"category_code"`
	Grade        Grade        `json:"grade"`
	Score        float64      `json:"score"`
	Reason       string       `json:"reason"`
	Details      *StatsWindow `json:"details,omitempty"`
}

// ActionDecision translates a grade plus operating mode into the concrete
// sourcing action the registration pipeline must honor.
type ActionDecision struct {
	Mode           Mode     `json:"mode"`
	Grade          Grade    `json:"grade"`
	Score          float64  `json:"score"`
	Action         string   `json:"action"`
	MaxItems       int      `json:"max_items"`
	AllowedMarkets []string `json:"allowed_markets"`
	ForceResearch  bool     `json:"force_research"`
	PolicyReason   string   `json:"policy_reason"`
}
