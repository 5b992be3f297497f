package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsWindowRates(t *testing.T) {
	tests := []struct {
		name     string
		w        StatsWindow
		wantAR   float64
		wantER   float64
		wantFD   float64
	}{
		{"empty window", StatsWindow{}, 0, 0, 0},
		{"all success", StatsWindow{TotalTrials: 10, SuccessCount: 10, ExactSuccessCount: 10}, 100, 100, 0},
		{"mixed", StatsWindow{TotalTrials: 100, SuccessCount: 90, ExactSuccessCount: 80, FallbackSuccesses: 10}, 90, 80, 11.11},
		{"failures only", StatsWindow{TotalTrials: 5}, 0, 0, 0},
		{"fallback heavy", StatsWindow{TotalTrials: 10, SuccessCount: 5, FallbackSuccesses: 5}, 50, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantAR, tt.w.ApprovalRate(), 0.01)
			assert.InDelta(t, tt.wantER, tt.w.ExactRate(), 0.01)
			assert.InDelta(t, tt.wantFD, tt.w.FallbackDependency(), 0.01)
		})
	}
}

func TestRatesStayInRange(t *testing.T) {
	w := StatsWindow{TotalTrials: 3, SuccessCount: 3, ExactSuccessCount: 3, FallbackSuccesses: 3}
	assert.LessOrEqual(t, w.ApprovalRate(), 100.0)
	assert.LessOrEqual(t, w.ExactRate(), 100.0)
	assert.LessOrEqual(t, w.FallbackDependency(), 100.0)
	assert.GreaterOrEqual(t, w.ApprovalRate(), 0.0)
}
