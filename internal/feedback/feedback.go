// Package feedback is the operator signal intake: UP/DOWN votes on a
// category or keyword become throttled OPERATOR_UP/OPERATOR_DOWN events that
// bias the next evaluations.
package feedback

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
)

// Signal is one operator vote. Exactly one of CategoryCode or Keyword must
// be set; a keyword fans out to every category it resolves to.
type Signal struct {
	Direction    string `json:"direction"` // "UP" or "DOWN"
	CategoryCode string `json:"category_code,omitempty"`
	Keyword      string `json:"keyword,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Operator     string `json:"operator,omitempty"`
}

// Receipt reports what a submitted signal produced per category.
type Receipt struct {
	CategoryCode string          `json:"category_code"`
	EventType    model.EventType `json:"event_type"`
	Multiplier   float64         `json:"multiplier"`
	Recorded     bool            `json:"recorded"` // false when throttled
}

// Intake validates operator signals and appends the corresponding events.
type Intake struct {
	events  policy.EventSink
	catalog policy.CatalogSource
	cfg     policy.Config
}

// NewIntake creates an Intake.
func NewIntake(events policy.EventSink, catalog policy.CatalogSource, cfg policy.Config) *Intake {
	return &Intake{events: events, catalog: catalog, cfg: cfg}
}

// Submit records an operator signal. Re-submitting within the throttle
// window returns receipts with Recorded=false rather than an error.
func (i *Intake) Submit(ctx context.Context, sig Signal) ([]Receipt, error) {
	eventType, multiplier, err := i.classify(sig.Direction)
	if err != nil {
		return nil, err
	}

	categories, err := i.resolve(ctx, sig)
	if err != nil {
		return nil, err
	}

	reason := sig.Reason
	if reason == "" {
		reason = "operator " + strings.ToUpper(strings.TrimSpace(sig.Direction)) + " signal"
	}

	receipts := make([]Receipt, 0, len(categories))
	for _, cat := range categories {
		recorded, err := i.events.Append(ctx, policy.EventRecord{
			CategoryCode: cat,
			Type:         eventType,
			Multiplier:   multiplier,
			Reason:       reason,
			Context: map[string]any{
				"operator": sig.Operator,
				"keyword":  sig.Keyword,
			},
		})
		if err != nil {
			return receipts, eris.Wrapf(err, "feedback: record signal for %s", cat)
		}
		receipts = append(receipts, Receipt{
			CategoryCode: cat,
			EventType:    eventType,
			Multiplier:   multiplier,
			Recorded:     recorded,
		})
	}

	zap.L().Info("feedback: signal submitted",
		zap.String("direction", sig.Direction),
		zap.String("keyword", sig.Keyword),
		zap.Int("categories", len(receipts)),
	)
	return receipts, nil
}

// ApprovePivot records an approved strategy pivot for a category. Pivot
// events are audit-only: multiplier 1.0, no scoring effect.
func (i *Intake) ApprovePivot(ctx context.Context, categoryCode, reason string) (*Receipt, error) {
	if categoryCode == "" {
		return nil, eris.New("feedback: category code is required")
	}
	if reason == "" {
		reason = "strategy pivot approved"
	}

	recorded, err := i.events.Append(ctx, policy.EventRecord{
		CategoryCode: categoryCode,
		Type:         model.EventPivotApproved,
		Multiplier:   1.0,
		Reason:       reason,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: record pivot for %s", categoryCode)
	}
	return &Receipt{
		CategoryCode: categoryCode,
		EventType:    model.EventPivotApproved,
		Multiplier:   1.0,
		Recorded:     recorded,
	}, nil
}

func (i *Intake) classify(direction string) (model.EventType, float64, error) {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "UP":
		return model.EventOperatorUp, i.cfg.OperatorUpMultiplier, nil
	case "DOWN":
		return model.EventOperatorDown, i.cfg.OperatorDownMultiplier, nil
	default:
		return "", 0, eris.Errorf("feedback: direction must be UP or DOWN, got %q", direction)
	}
}

func (i *Intake) resolve(ctx context.Context, sig Signal) ([]string, error) {
	switch {
	case sig.CategoryCode != "" && sig.Keyword != "":
		return nil, eris.New("feedback: provide a category or a keyword, not both")
	case sig.CategoryCode != "":
		return []string{sig.CategoryCode}, nil
	case sig.Keyword != "":
		categories, err := i.catalog.CategoriesForKeyword(ctx, sig.Keyword)
		if err != nil {
			return nil, eris.Wrapf(err, "feedback: resolve keyword %q", sig.Keyword)
		}
		if len(categories) == 0 {
			categories, err = i.catalog.BenchmarkCategories(ctx, sig.Keyword)
			if err != nil {
				return nil, eris.Wrapf(err, "feedback: benchmark lookup for %q", sig.Keyword)
			}
		}
		if len(categories) == 0 {
			return nil, eris.Errorf("feedback: keyword %q matches no categories", sig.Keyword)
		}
		return categories, nil
	default:
		return nil, eris.New("feedback: a category or keyword is required")
	}
}
