package slam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureModeResolve(t *testing.T) {
	tests := []struct {
		name  string
		mode  FailureMode
		raw   TrackingResult
		delay int
		want  PolicyDecision
	}{
		{"relocalise good ready", FailureModeRelocalise, TrackingGood, 0,
			PolicyDecision{Result: TrackingGood, QueryRelocaliser: true, ConsiderKeyframe: true}},
		{"relocalise good cooling", FailureModeRelocalise, TrackingGood, 4,
			PolicyDecision{Result: TrackingGood, QueryRelocaliser: true, KeyframeDelay: 3}},
		{"relocalise poor", FailureModeRelocalise, TrackingPoor, 4,
			PolicyDecision{Result: TrackingPoor, QueryRelocaliser: true, KeyframeDelay: 4}},
		{"relocalise failed", FailureModeRelocalise, TrackingFailed, 0,
			PolicyDecision{Result: TrackingFailed, QueryRelocaliser: true}},
		{"stop integration failed", FailureModeStopIntegration, TrackingFailed, 2,
			PolicyDecision{Result: TrackingPoor, KeyframeDelay: 2}},
		{"stop integration good", FailureModeStopIntegration, TrackingGood, 0,
			PolicyDecision{Result: TrackingGood}},
		{"ignore failed", FailureModeIgnore, TrackingFailed, 0,
			PolicyDecision{Result: TrackingGood}},
		{"ignore poor", FailureModeIgnore, TrackingPoor, 7,
			PolicyDecision{Result: TrackingGood, KeyframeDelay: 7}},
		{"unknown mode ignores", FailureMode(42), TrackingFailed, 0,
			PolicyDecision{Result: TrackingGood}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.mode.Resolve(tt.raw, tt.delay))
		})
	}
}

func TestDecideRelocalisation(t *testing.T) {
	none := RelocalisationResult{KeyframeID: NoKeyframe, NearestNeighbour: NoKeyframe}
	withNN := RelocalisationResult{KeyframeID: NoKeyframe, NearestNeighbour: 7}
	added := RelocalisationResult{KeyframeID: 3, NearestNeighbour: 7}

	assert.Equal(t, ActionNone, DecideRelocalisation(TrackingFailed, none))
	assert.Equal(t, ActionRecover, DecideRelocalisation(TrackingFailed, withNN))
	assert.Equal(t, ActionNone, DecideRelocalisation(TrackingPoor, withNN))
	assert.Equal(t, ActionStoreKeyframe, DecideRelocalisation(TrackingGood, added))
}

func TestParseFailureMode(t *testing.T) {
	for _, m := range []FailureMode{FailureModeRelocalise, FailureModeStopIntegration, FailureModeIgnore} {
		got, err := ParseFailureMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseFailureMode("panic")
	assert.Error(t, err)
}

func TestParseTrackingResult(t *testing.T) {
	got, err := ParseTrackingResult("poor")
	require.NoError(t, err)
	assert.Equal(t, TrackingPoor, got)

	_, err = ParseTrackingResult("great")
	assert.Error(t, err)
	assert.Equal(t, "TrackingResult(9)", TrackingResult(9).String())
}
