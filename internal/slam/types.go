package slam

import (
	"fmt"
	"image"

	"github.com/banshee-data/slamframe/internal/slam/geom"
)

// TrackingResult is the tracker's verdict for a frame.
type TrackingResult int

const (
	// TrackingGood means the pose estimate can be trusted for fusion and keyframing.
	TrackingGood TrackingResult = iota
	// TrackingPoor means the estimate is usable for visibility bookkeeping only,
	// except during the warm-start window.
	TrackingPoor
	// TrackingFailed means the estimate must be discarded.
	TrackingFailed
)

// String returns the lower-case verdict name used in logs and reports.
func (r TrackingResult) String() string {
	switch r {
	case TrackingGood:
		return "good"
	case TrackingPoor:
		return "poor"
	case TrackingFailed:
		return "failed"
	default:
		return fmt.Sprintf("TrackingResult(%d)", int(r))
	}
}

// ParseTrackingResult parses the names produced by String.
func ParseTrackingResult(s string) (TrackingResult, error) {
	switch s {
	case "good":
		return TrackingGood, nil
	case "poor":
		return TrackingPoor, nil
	case "failed":
		return TrackingFailed, nil
	}
	return 0, fmt.Errorf("unknown tracking result %q", s)
}

// TrackingState is the session's live camera estimate.
type TrackingState struct {
	Pose   geom.Pose
	Result TrackingResult
}

// NewTrackingState returns a state at the identity pose with a good verdict,
// which is what the first frame of a session is judged with.
func NewTrackingState() *TrackingState {
	return &TrackingState{Pose: geom.Identity(), Result: TrackingGood}
}

// Intrinsics are pinhole camera parameters in pixels.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
}

// DepthImage holds metric depth in metres, row-major. Zero marks a missing sample.
type DepthImage struct {
	Width  int
	Height int
	Depth  []float32
}

// NewDepthImage allocates a zeroed depth image.
func NewDepthImage(width, height int) *DepthImage {
	return &DepthImage{Width: width, Height: height, Depth: make([]float32, width*height)}
}

// At returns the depth at pixel (x, y).
func (d *DepthImage) At(x, y int) float32 { return d.Depth[y*d.Width+x] }

// Set writes the depth at pixel (x, y).
func (d *DepthImage) Set(x, y int, v float32) { d.Depth[y*d.Width+x] = v }

// View is the current frame after view building. It is replaced every frame.
type View struct {
	FrameIndex int
	RGB        *image.RGBA
	Depth      *DepthImage
	Intrinsics Intrinsics
}

// Scene is the reconstruction a DenseMapper fuses into. Its layout belongs
// to the mapper; the controller only passes it through.
type Scene interface {
	SceneID() string
}

// RenderState is the live-camera prediction shared by the mapper (which
// maintains the visible block list) and the tracker (which raycasts it).
type RenderState interface {
	VisibleBlockCount() int
}

// SessionState is the per-scene state owned by a session context. A
// Controller borrows it for the life of the session.
type SessionState struct {
	SceneID  string
	Scene    Scene
	Tracking *TrackingState
	Render   RenderState
	View     *View
}

// KeyframeID identifies a relocaliser keyframe.
type KeyframeID int

// NoKeyframe is the sentinel for "no keyframe".
const NoKeyframe KeyframeID = -1

// Valid reports whether id refers to a keyframe.
func (id KeyframeID) Valid() bool { return id >= 0 }

// MarshalText encodes the verdict by name.
func (r TrackingResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText decodes a verdict name.
func (r *TrackingResult) UnmarshalText(b []byte) error {
	v, err := ParseTrackingResult(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
