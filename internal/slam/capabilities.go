package slam

import (
	"image"

	"github.com/banshee-data/slamframe/internal/slam/geom"
)

// FrameSource supplies paired RGB and raw depth images.
type FrameSource interface {
	// HasMoreImages reports whether Images can produce another frame.
	HasMoreImages() bool
	// Images returns the next RGB image and raw depth image (sensor units).
	// It may block until the sensor delivers a frame.
	Images() (*image.RGBA, *image.Gray16, error)
	// CurrentSubstreamHasMoreImages reports whether the sub-stream that
	// produced the last frame has further images.
	CurrentSubstreamHasMoreImages() bool
}

// ViewBuilder converts raw input into a View.
type ViewBuilder interface {
	UpdateView(rgb *image.RGBA, rawDepth *image.Gray16, useBilateralFilter bool) (*View, error)
}

// Tracker estimates the camera pose against the scene.
type Tracker interface {
	// Prepare refreshes the prediction (raycast) the next Track call aligns against.
	Prepare(state *TrackingState, scene Scene, view *View, render RenderState) error
	// Track updates state.Pose and state.Result for view.
	Track(state *TrackingState, view *View) error
}

// FallibleTracker is a Tracker that can additionally report a hard loss of
// tracking independent of its verdict, e.g. an external pose feed dropping out.
type FallibleTracker interface {
	Tracker
	LostTracking() bool
}

// RelocalisationResult is the outcome of submitting a frame to the relocaliser.
type RelocalisationResult struct {
	// KeyframeID is the id assigned to the frame if it was added as a new
	// keyframe, otherwise NoKeyframe.
	KeyframeID KeyframeID
	// NearestNeighbour is the most similar existing keyframe, or NoKeyframe.
	NearestNeighbour KeyframeID
}

// Relocaliser maintains a keyframe database keyed by depth signature.
type Relocaliser interface {
	// ProcessFrame finds the nearest keyframe to depth and, when
	// considerKeyframe is true and the frame is novel enough, adds it as a
	// new keyframe.
	ProcessFrame(depth *DepthImage, considerKeyframe bool) (RelocalisationResult, error)
	// DiscardKeyframe withdraws a keyframe added by the most recent
	// ProcessFrame call whose pose could not be stored.
	DiscardKeyframe(id KeyframeID) error
}

// PoseDatabase stores one camera pose per keyframe.
type PoseDatabase interface {
	StorePose(id KeyframeID, pose geom.Pose) error
	RetrievePose(id KeyframeID) (geom.Pose, error)
}

// DenseMapper fuses views into the scene.
type DenseMapper interface {
	// Fuse integrates view at the tracked pose and refreshes the visible list.
	Fuse(view *View, state *TrackingState, scene Scene, render RenderState) error
	// UpdateVisibility refreshes the visible block list without altering the
	// scene. resetList clears the list first.
	UpdateVisibility(view *View, state *TrackingState, scene Scene, render RenderState, resetList bool) error
}
