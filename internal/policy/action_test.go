package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

func TestActionMapperDecide(t *testing.T) {
	mapper := NewActionMapper("coupang", "smartstore")

	tests := []struct {
		name         string
		grade        model.Grade
		mode         model.Mode
		wantAction   string
		wantMax      int
		wantMarkets  []string
		wantResearch bool
	}{
		{
			name:        "core is unrestricted",
			grade:       model.GradeCore,
			mode:        model.ModeEnforce,
			wantAction:  ActionNormal,
			wantMax:     50,
			wantMarkets: []string{"coupang", "smartstore"},
		},
		{
			name:        "try gets a small cap",
			grade:       model.GradeTry,
			mode:        model.ModeEnforce,
			wantAction:  ActionNormal,
			wantMax:     10,
			wantMarkets: []string{"coupang", "smartstore"},
		},
		{
			name:         "research enforced",
			grade:        model.GradeResearch,
			mode:         model.ModeEnforce,
			wantAction:   ActionLimitSourcing,
			wantMax:      3,
			wantMarkets:  []string{"coupang", "smartstore"},
			wantResearch: true,
		},
		{
			name:         "research enforce_lite also limits",
			grade:        model.GradeResearch,
			mode:         model.ModeEnforceLite,
			wantAction:   ActionLimitSourcing,
			wantMax:      3,
			wantMarkets:  []string{"coupang", "smartstore"},
			wantResearch: true,
		},
		{
			name:         "research shadow only labels",
			grade:        model.GradeResearch,
			mode:         model.ModeShadow,
			wantAction:   ActionShadowLimit,
			wantMax:      3,
			wantMarkets:  []string{"coupang", "smartstore"},
			wantResearch: true,
		},
		{
			name:        "block enforced shifts quota to the alternate channel",
			grade:       model.GradeBlock,
			mode:        model.ModeEnforce,
			wantAction:  "skip_coupang",
			wantMax:     100,
			wantMarkets: []string{"smartstore"},
		},
		{
			name:        "block shadow does not restrict",
			grade:       model.GradeBlock,
			mode:        model.ModeShadow,
			wantAction:  ActionShadowBlock,
			wantMax:     0,
			wantMarkets: []string{"coupang", "smartstore"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &model.PolicyEvaluation{
				CategoryCode: "CAT-1",
				Grade:        tt.grade,
				Score:        61.5,
				Reason:       "test reason",
			}
			d := mapper.Decide(ev, tt.mode)

			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.grade, d.Grade)
			assert.Equal(t, 61.5, d.Score)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantMax, d.MaxItems)
			assert.Equal(t, tt.wantMarkets, d.AllowedMarkets)
			assert.Equal(t, tt.wantResearch, d.ForceResearch)
			assert.Equal(t, "test reason", d.PolicyReason)
		})
	}
}
