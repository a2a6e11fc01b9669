package slam

import "fmt"

// DefaultInitialFramesToFuse is the warm-start window during which poorly
// tracked frames are still fused.
const DefaultInitialFramesToFuse = 50

// FusionGate holds the inputs of the per-frame fusion decision.
type FusionGate struct {
	Enabled             bool
	Result              TrackingResult
	FusedFramesCount    int
	InitialFramesToFuse int
	TrackerLost         bool
}

// Permitted reports whether the frame may be fused.
func (g FusionGate) Permitted() bool {
	if !g.Enabled || g.TrackerLost {
		return false
	}
	switch g.Result {
	case TrackingFailed:
		return false
	case TrackingPoor:
		return g.FusedFramesCount < g.InitialFramesToFuse
	default:
		return true
	}
}

// FrameOutcome is what happened to the scene and pose at the end of a frame.
type FrameOutcome int

const (
	// OutcomeFused means the view was integrated into the scene.
	OutcomeFused FrameOutcome = iota
	// OutcomeVisibilityUpdated means only the visible block list was refreshed.
	OutcomeVisibilityUpdated
	// OutcomePoseRestored means the pose was rolled back to the previous frame.
	OutcomePoseRestored
)

func (o FrameOutcome) String() string {
	switch o {
	case OutcomeFused:
		return "fused"
	case OutcomeVisibilityUpdated:
		return "visibility_updated"
	case OutcomePoseRestored:
		return "pose_restored"
	default:
		return fmt.Sprintf("FrameOutcome(%d)", int(o))
	}
}

// DecideOutcome maps the gate decision and effective verdict to an outcome.
func DecideOutcome(fusionPermitted bool, result TrackingResult) FrameOutcome {
	switch {
	case fusionPermitted:
		return OutcomeFused
	case result != TrackingFailed:
		return OutcomeVisibilityUpdated
	default:
		return OutcomePoseRestored
	}
}

// MarshalText encodes the outcome by name.
func (o FrameOutcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText decodes an outcome name.
func (o *FrameOutcome) UnmarshalText(b []byte) error {
	for _, v := range []FrameOutcome{OutcomeFused, OutcomeVisibilityUpdated, OutcomePoseRestored} {
		if v.String() == string(b) {
			*o = v
			return nil
		}
	}
	return fmt.Errorf("unknown frame outcome %q", b)
}
