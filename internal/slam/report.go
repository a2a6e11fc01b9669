package slam

import (
	"time"

	"github.com/banshee-data/slamframe/internal/slam/geom"
)

// FrameReport records the decisions taken for one processed frame.
type FrameReport struct {
	SceneID    string    `json:"scene_id"`
	FrameIndex int       `json:"frame_index"`
	Timestamp  time.Time `json:"timestamp"`

	Tracked         bool           `json:"tracked"`
	RawResult       TrackingResult `json:"raw_result"`
	EffectiveResult TrackingResult `json:"effective_result"`
	TrackerLost     bool           `json:"tracker_lost"`

	ConsideredKeyframe bool                 `json:"considered_keyframe"`
	KeyframeID         KeyframeID           `json:"keyframe_id"`
	NearestNeighbour   KeyframeID           `json:"nearest_neighbour"`
	Action             RelocalisationAction `json:"action"`

	FusionPermitted  bool         `json:"fusion_permitted"`
	Outcome          FrameOutcome `json:"outcome"`
	FusedFramesCount int          `json:"fused_frames_count"`
	KeyframeDelay    int          `json:"keyframe_delay"`
	FusionEnabled    bool         `json:"fusion_enabled"`

	Pose geom.Pose `json:"pose"`
}

// Relocalised reports whether the frame triggered a relocalisation recovery.
func (r FrameReport) Relocalised() bool { return r.Action == ActionRecover }

// FrameObserver is called once per processed frame, after all state for the
// frame has been committed.
type FrameObserver func(report FrameReport)
