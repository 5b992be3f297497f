package policy

import (
	"fmt"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

// Action names handed to the registration pipeline.
const (
	ActionNormal        = "normal"
	ActionLimitSourcing = "limit_sourcing"
	ActionShadowLimit   = "shadow_limit"
	ActionShadowBlock   = "shadow_block"
)

// Item caps per grade. The BLOCK cap applies to the alternate channel only:
// the primary-market quota shifts there entirely.
const (
	CoreMaxItems     = 50
	TryMaxItems      = 10
	ResearchMaxItems = 3
	BlockedMaxItems  = 100
)

// ActionMapper translates a grade plus operating mode into a sourcing action.
// Market names are configurable so staging environments can point at test
// channels.
type ActionMapper struct {
	primaryMarket   string
	secondaryMarket string
}

// NewActionMapper creates an ActionMapper for the given market pair.
func NewActionMapper(primary, secondary string) *ActionMapper {
	return &ActionMapper{primaryMarket: primary, secondaryMarket: secondary}
}

// Decide maps an evaluation to the concrete action for the given mode.
// Shadow mode never restricts sourcing; it only labels what enforcement
// would have done.
func (m *ActionMapper) Decide(ev *model.PolicyEvaluation, mode model.Mode) model.ActionDecision {
	d := model.ActionDecision{
		Mode:         mode,
		Grade:        ev.Grade,
		Score:        ev.Score,
		PolicyReason: ev.Reason,
	}

	switch ev.Grade {
	case model.GradeCore:
		d.Action = ActionNormal
		d.MaxItems = CoreMaxItems
		d.AllowedMarkets = []string{m.primaryMarket, m.secondaryMarket}

	case model.GradeTry:
		d.Action = ActionNormal
		d.MaxItems = TryMaxItems
		d.AllowedMarkets = []string{m.primaryMarket, m.secondaryMarket}

	case model.GradeResearch:
		d.MaxItems = ResearchMaxItems
		d.ForceResearch = true
		d.AllowedMarkets = []string{m.primaryMarket, m.secondaryMarket}
		if mode == model.ModeShadow {
			d.Action = ActionShadowLimit
		} else {
			d.Action = ActionLimitSourcing
		}

	case model.GradeBlock:
		if mode == model.ModeShadow {
			d.Action = ActionShadowBlock
			d.MaxItems = 0
			d.AllowedMarkets = []string{m.primaryMarket, m.secondaryMarket}
		} else {
			d.Action = fmt.Sprintf("skip_%s", m.primaryMarket)
			d.MaxItems = BlockedMaxItems
			d.AllowedMarkets = []string{m.secondaryMarket}
		}
	}

	return d
}
