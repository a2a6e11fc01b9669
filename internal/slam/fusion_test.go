package slam

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFusionGatePermitted(t *testing.T) {
	base := FusionGate{Enabled: true, Result: TrackingGood, FusedFramesCount: 10, InitialFramesToFuse: 50}

	tests := []struct {
		name   string
		modify func(*FusionGate)
		want   bool
	}{
		{"good", func(*FusionGate) {}, true},
		{"disabled", func(g *FusionGate) { g.Enabled = false }, false},
		{"failed", func(g *FusionGate) { g.Result = TrackingFailed }, false},
		{"poor in warm start", func(g *FusionGate) { g.Result = TrackingPoor }, true},
		{"poor at warm start limit", func(g *FusionGate) { g.Result = TrackingPoor; g.FusedFramesCount = 50 }, false},
		{"poor after warm start", func(g *FusionGate) { g.Result = TrackingPoor; g.FusedFramesCount = 80 }, false},
		{"good after warm start", func(g *FusionGate) { g.FusedFramesCount = 80 }, true},
		{"tracker lost", func(g *FusionGate) { g.TrackerLost = true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := base
			tt.modify(&g)
			assert.Equal(t, tt.want, g.Permitted())
		})
	}
}

func TestDecideOutcome(t *testing.T) {
	assert.Equal(t, OutcomeFused, DecideOutcome(true, TrackingGood))
	assert.Equal(t, OutcomeVisibilityUpdated, DecideOutcome(false, TrackingPoor))
	assert.Equal(t, OutcomeVisibilityUpdated, DecideOutcome(false, TrackingGood))
	assert.Equal(t, OutcomePoseRestored, DecideOutcome(false, TrackingFailed))
}
