package policy

import (
	"sort"
	"strings"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// classifierRule pairs a keyword set with a failure severity. Rules are
// evaluated top-down, so a reason matching both critical and transient
// keywords counts only as critical.
type classifierRule struct {
	severity model.Severity
	keywords []string
}

// classifierRules orders severities critical > warning > transient. The
// vocabularies come from observed marketplace rejection messages.
var classifierRules = []classifierRule{
	{
		severity: model.SeverityCritical,
		keywords: []string{
			"brand authorization", "authorization required", "unauthorized seller",
			"trademark", "counterfeit", "intellectual property", "ip complaint",
			"restricted category", "prohibited item", "certification required",
			"compliance", "safety recall", "ownership",
		},
	},
	{
		severity: model.SeverityWarning,
		keywords: []string{
			"image quality", "missing image", "title too", "description",
			"category mismatch", "attribute missing", "incomplete listing",
			"poor quality", "translation", "duplicate listing",
		},
	},
	{
		severity: model.SeverityTransient,
		keywords: []string{
			"timeout", "timed out", "rate limit", "too many requests",
			"server error", "internal error", "temporarily unavailable",
			"connection reset", "service unavailable", "429", "503",
		},
	},
}

// Penalty formula parameters: each critical failure costs 10 points of the
// multiplier, warnings 5, transients 1, floored at 0.6.
const (
	penaltyFloor         = 0.6
	criticalPenaltyStep  = 0.10
	warningPenaltyStep   = 0.05
	transientPenaltyStep = 0.01
	maxTopReasons        = 3
)

// ClassifyFailures buckets free-text rejection reasons into severities and
// derives the penalty multiplier. Empty reasons are skipped, never fatal.
// With zero classifiable failures the result is neutral: severity NONE,
// penalty 1.0.
func ClassifyFailures(categoryCode string, reasons []string) model.FailureAnalysis {
	fa := model.FailureAnalysis{
		CategoryCode: categoryCode,
		Severity:     model.SeverityNone,
		PenaltyScore: 1.0,
	}

	counts := make(map[string]int)
	var order []string

	for _, reason := range reasons {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			continue
		}
		fa.TotalFailures++

		switch classifyReason(reason) {
		case model.SeverityCritical:
			fa.CriticalCount++
		case model.SeverityWarning:
			fa.WarningCount++
		case model.SeverityTransient:
			fa.TransientCount++
		}

		if counts[reason] == 0 {
			order = append(order, reason)
		}
		counts[reason]++
	}

	penalty := 1.0 -
		criticalPenaltyStep*float64(fa.CriticalCount) -
		warningPenaltyStep*float64(fa.WarningCount) -
		transientPenaltyStep*float64(fa.TransientCount)
	if penalty < penaltyFloor {
		penalty = penaltyFloor
	}
	fa.PenaltyScore = penalty

	switch {
	case fa.CriticalCount > 0:
		fa.Severity = model.SeverityCritical
	case fa.WarningCount > 0:
		fa.Severity = model.SeverityWarning
	case fa.TransientCount > 0:
		fa.Severity = model.SeverityTransient
	}

	fa.TopReasons = topReasons(counts, order)
	return fa
}

// classifyReason matches one lower-cased reason against the prioritized
// rule list. Unmatched reasons carry no severity bucket but still count
// toward total failures.
func classifyReason(reason string) model.Severity {
	lowered := strings.ToLower(reason)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.severity
			}
		}
	}
	return model.SeverityNone
}

// topReasons returns the most frequent distinct reasons, capped at three,
// frequency descending with first-seen order breaking ties.
func topReasons(counts map[string]int, order []string) []string {
	if len(order) == 0 {
		return nil
	}
	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	if len(ranked) > maxTopReasons {
		ranked = ranked[:maxTopReasons]
	}
	return ranked
}
