package slam

import "fmt"

// FailureMode selects how a session reacts to poor or failed tracking.
type FailureMode int

const (
	// FailureModeRelocalise harvests keyframes while tracking is good and
	// recovers from failures by restarting the tracker at the nearest keyframe.
	FailureModeRelocalise FailureMode = iota
	// FailureModeStopIntegration treats failed tracking as poor tracking, so
	// fusion stops but the camera keeps moving.
	FailureModeStopIntegration
	// FailureModeIgnore treats every frame as well tracked.
	FailureModeIgnore
)

// DefaultKeyframeDelay is the number of good frames required after a
// relocalisation before a new keyframe may be harvested.
const DefaultKeyframeDelay = 10

var failureModeNames = map[FailureMode]string{
	FailureModeRelocalise:      "relocalise",
	FailureModeStopIntegration: "stop_integration",
	FailureModeIgnore:          "ignore",
}

func (m FailureMode) String() string {
	if name, ok := failureModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("FailureMode(%d)", int(m))
}

// ParseFailureMode parses the names produced by String.
func ParseFailureMode(s string) (FailureMode, error) {
	for m, name := range failureModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown failure mode %q (want relocalise, stop_integration or ignore)", s)
}

// PolicyDecision is what a failure-mode handler decides for a frame from the
// raw verdict and the keyframe cooldown alone.
type PolicyDecision struct {
	// Result is the effective verdict. Under the relocalise policy it may
	// still be replaced by a recovery re-track.
	Result TrackingResult
	// QueryRelocaliser is set when the frame must be submitted to the relocaliser.
	QueryRelocaliser bool
	// ConsiderKeyframe is the candidacy flag passed to the relocaliser.
	ConsiderKeyframe bool
	// KeyframeDelay is the cooldown to carry into the next frame.
	KeyframeDelay int
}

type failureModeHandler func(raw TrackingResult, keyframeDelay int) PolicyDecision

var failureModeHandlers = map[FailureMode]failureModeHandler{
	FailureModeRelocalise:      resolveRelocalise,
	FailureModeStopIntegration: resolveStopIntegration,
	FailureModeIgnore:          resolveIgnore,
}

// Resolve applies the failure mode to a raw verdict. Unknown modes behave
// like FailureModeIgnore.
func (m FailureMode) Resolve(raw TrackingResult, keyframeDelay int) PolicyDecision {
	h, ok := failureModeHandlers[m]
	if !ok {
		h = resolveIgnore
	}
	return h(raw, keyframeDelay)
}

func resolveRelocalise(raw TrackingResult, keyframeDelay int) PolicyDecision {
	consider, delay := KeyframeCandidacy(raw, keyframeDelay)
	return PolicyDecision{
		Result:           raw,
		QueryRelocaliser: true,
		ConsiderKeyframe: consider,
		KeyframeDelay:    delay,
	}
}

func resolveStopIntegration(raw TrackingResult, keyframeDelay int) PolicyDecision {
	result := raw
	if result == TrackingFailed {
		result = TrackingPoor
	}
	return PolicyDecision{Result: result, KeyframeDelay: keyframeDelay}
}

func resolveIgnore(_ TrackingResult, keyframeDelay int) PolicyDecision {
	return PolicyDecision{Result: TrackingGood, KeyframeDelay: keyframeDelay}
}

// KeyframeCandidacy decides whether a frame may become a keyframe. Only good
// frames count down the cooldown; a frame is a candidate once it reaches zero.
func KeyframeCandidacy(raw TrackingResult, keyframeDelay int) (consider bool, nextDelay int) {
	if raw != TrackingGood {
		return false, keyframeDelay
	}
	if keyframeDelay == 0 {
		return true, 0
	}
	return false, keyframeDelay - 1
}

// RelocalisationAction is the follow-up to a relocaliser query.
type RelocalisationAction int

const (
	// ActionNone leaves the frame as tracked.
	ActionNone RelocalisationAction = iota
	// ActionStoreKeyframe persists the current pose under the new keyframe id.
	ActionStoreKeyframe
	// ActionRecover restarts tracking from the nearest keyframe's pose.
	ActionRecover
)

func (a RelocalisationAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStoreKeyframe:
		return "store_keyframe"
	case ActionRecover:
		return "recover"
	default:
		return fmt.Sprintf("RelocalisationAction(%d)", int(a))
	}
}

// DecideRelocalisation picks the follow-up for a relocaliser result. A new
// keyframe takes precedence; recovery needs both a failed verdict and a
// nearest neighbour.
func DecideRelocalisation(result TrackingResult, match RelocalisationResult) RelocalisationAction {
	switch {
	case match.KeyframeID.Valid():
		return ActionStoreKeyframe
	case result == TrackingFailed && match.NearestNeighbour.Valid():
		return ActionRecover
	default:
		return ActionNone
	}
}

// MarshalText encodes the action by name.
func (a RelocalisationAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText decodes an action name.
func (a *RelocalisationAction) UnmarshalText(b []byte) error {
	for _, v := range []RelocalisationAction{ActionNone, ActionStoreKeyframe, ActionRecover} {
		if v.String() == string(b) {
			*a = v
			return nil
		}
	}
	return fmt.Errorf("unknown relocalisation action %q", b)
}
