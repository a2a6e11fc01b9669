package slam

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/slamframe/internal/slam/geom"
	"github.com/banshee-data/slamframe/internal/timeutil"
)

// ErrMissingCollaborator is returned by NewController when a required
// capability was not supplied.
var ErrMissingCollaborator = errors.New("missing collaborator")

// ControllerConfig holds the capabilities and policy for one session.
type ControllerConfig struct {
	Source      FrameSource
	ViewBuilder ViewBuilder
	Tracker     Tracker
	Mapper      DenseMapper

	// Relocaliser and PoseDatabase are required for FailureModeRelocalise
	// and ignored otherwise.
	Relocaliser  Relocaliser
	PoseDatabase PoseDatabase

	FailureMode FailureMode

	// InitialFramesToFuse is the warm-start window in which poorly tracked
	// frames are still fused.
	InitialFramesToFuse int

	// KeyframeDelay is the cooldown applied after a relocalisation.
	KeyframeDelay int

	UseBilateralFilter bool

	// Observer, when non-nil, receives a report for every processed frame.
	Observer FrameObserver

	// Clock stamps frame reports. Defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// DefaultControllerConfig returns a config with the default policy and no
// collaborators.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		FailureMode:         FailureModeRelocalise,
		InitialFramesToFuse: DefaultInitialFramesToFuse,
		KeyframeDelay:       DefaultKeyframeDelay,
	}
}

// Validate checks that the collaborators the failure mode needs are present.
func (cfg *ControllerConfig) Validate() error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s", ErrMissingCollaborator, name)
	}
	switch {
	case cfg.Source == nil:
		return missing("frame source")
	case cfg.ViewBuilder == nil:
		return missing("view builder")
	case cfg.Tracker == nil:
		return missing("tracker")
	case cfg.Mapper == nil:
		return missing("dense mapper")
	}
	if cfg.FailureMode == FailureModeRelocalise {
		if cfg.Relocaliser == nil {
			return missing("relocaliser")
		}
		if cfg.PoseDatabase == nil {
			return missing("pose database")
		}
	}
	if _, ok := failureModeHandlers[cfg.FailureMode]; !ok {
		return fmt.Errorf("unsupported failure mode %v", cfg.FailureMode)
	}
	if cfg.InitialFramesToFuse < 0 {
		return fmt.Errorf("initial frames to fuse must be non-negative, got %d", cfg.InitialFramesToFuse)
	}
	if cfg.KeyframeDelay < 0 {
		return fmt.Errorf("keyframe delay must be non-negative, got %d", cfg.KeyframeDelay)
	}
	return nil
}

// Controller runs the per-frame SLAM decision sequence for one scene.
// Run must be called from a single goroutine; SetFusionEnabled and the
// read accessors may be called concurrently with it.
type Controller struct {
	state *SessionState

	source       FrameSource
	viewBuilder  ViewBuilder
	tracker      Tracker
	fallible     FallibleTracker
	mapper       DenseMapper
	relocaliser  Relocaliser
	poseDatabase PoseDatabase
	observer     FrameObserver
	clock        timeutil.Clock

	failureMode         FailureMode
	initialFramesToFuse int
	keyframeCooldown    int
	useBilateralFilter  bool

	fusionEnabled atomic.Bool

	// Cross-frame memory. Only Run writes these.
	fusedFramesCount int
	keyframeDelay    int
	framesProcessed  int

	// frameIndex counts frames taken from the source, committed or not, so
	// views stay aligned with per-frame pose feeds.
	frameIndex int

	mu         sync.RWMutex
	lastReport *FrameReport
	snapshot   Status
}

// Status is a consistent snapshot of the controller counters.
type Status struct {
	SceneID          string         `json:"scene_id"`
	FailureMode      string         `json:"failure_mode"`
	FramesProcessed  int            `json:"frames_processed"`
	FusedFramesCount int            `json:"fused_frames_count"`
	KeyframeDelay    int            `json:"keyframe_delay"`
	FusionEnabled    bool           `json:"fusion_enabled"`
	LastResult       TrackingResult `json:"last_result"`
	LastOutcome      FrameOutcome   `json:"last_outcome"`
	Pose             geom.Pose      `json:"pose"`
}

// NewController binds a controller to a session's state. Fusion starts enabled.
func NewController(state *SessionState, cfg ControllerConfig) (*Controller, error) {
	if state == nil || state.Tracking == nil {
		return nil, fmt.Errorf("%w: session state", ErrMissingCollaborator)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	c := &Controller{
		state:               state,
		source:              cfg.Source,
		viewBuilder:         cfg.ViewBuilder,
		tracker:             cfg.Tracker,
		mapper:              cfg.Mapper,
		relocaliser:         cfg.Relocaliser,
		poseDatabase:        cfg.PoseDatabase,
		observer:            cfg.Observer,
		clock:               clock,
		failureMode:         cfg.FailureMode,
		initialFramesToFuse: cfg.InitialFramesToFuse,
		keyframeCooldown:    cfg.KeyframeDelay,
		useBilateralFilter:  cfg.UseBilateralFilter,
	}
	if ft, ok := cfg.Tracker.(FallibleTracker); ok {
		c.fallible = ft
	}
	c.fusionEnabled.Store(true)
	c.publish(nil)
	return c, nil
}

// SceneID returns the scene this controller drives.
func (c *Controller) SceneID() string { return c.state.SceneID }

// FusionEnabled reports whether fusion is currently enabled.
func (c *Controller) FusionEnabled() bool { return c.fusionEnabled.Load() }

// SetFusionEnabled enables or disables fusion. Re-enabling after the frame
// source has been exhausted is not guarded against; the next Run that finds
// the sub-stream exhausted disables it again.
func (c *Controller) SetFusionEnabled(enabled bool) {
	if c.fusionEnabled.Swap(enabled) != enabled {
		diagf("[%s] fusion enabled set to %v", c.state.SceneID, enabled)
	}
	c.mu.Lock()
	c.snapshot.FusionEnabled = enabled
	c.mu.Unlock()
}

// Status returns the counters as of the last committed frame.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// LastReport returns the report for the most recent processed frame.
func (c *Controller) LastReport() (FrameReport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastReport == nil {
		return FrameReport{}, false
	}
	return *c.lastReport, true
}

// Run processes the next frame. It returns false once the frame source has no
// more images; in that case nothing is mutated. Poor or failed tracking is
// never an error. A non-nil error means a collaborator failed; the pose is
// restored to its value before the call and the frame is dropped; the frame
// index still moves past it.
func (c *Controller) Run() (bool, error) {
	if !c.source.HasMoreImages() {
		return false, nil
	}

	st := c.state
	sceneID := st.SceneID

	idx := c.frameIndex
	rgb, rawDepth, err := c.source.Images()
	// The source is past this frame even when it did not decode.
	c.frameIndex++
	if err != nil {
		c.endFrame(idx)
		return false, fmt.Errorf("scene %s frame %d: acquire frame: %w", sceneID, idx, err)
	}
	view, err := c.viewBuilder.UpdateView(rgb, rawDepth, c.useBilateralFilter)
	if err != nil {
		c.endFrame(idx)
		return false, fmt.Errorf("scene %s frame %d: build view: %w", sceneID, idx, err)
	}
	view.FrameIndex = idx
	st.View = view

	oldPose, oldResult := st.Tracking.Pose, st.Tracking.Result
	visibilityReset := false
	fail := func(stage string, err error) (bool, error) {
		st.Tracking.Pose = oldPose
		st.Tracking.Result = oldResult
		if visibilityReset {
			// Recovery rebuilt the visible list and prediction at the keyframe pose.
			if verr := c.restoreRender(view); verr != nil {
				err = errors.Join(err, verr)
			}
		}
		c.endFrame(idx)
		opsf("[%s] frame %d: %s failed, pose restored: %v", sceneID, idx, stage, err)
		return false, fmt.Errorf("scene %s frame %d: %s: %w", sceneID, idx, stage, err)
	}

	report := FrameReport{
		SceneID:          sceneID,
		FrameIndex:       idx,
		Timestamp:        c.clock.Now(),
		KeyframeID:       NoKeyframe,
		NearestNeighbour: NoKeyframe,
	}

	// There is nothing to track against until something has been fused.
	if c.fusedFramesCount > 0 {
		if err := c.tracker.Track(st.Tracking, view); err != nil {
			return fail("track", err)
		}
		report.Tracked = true
	}
	report.RawResult = st.Tracking.Result

	decision := c.failureMode.Resolve(st.Tracking.Result, c.keyframeDelay)
	result := decision.Result
	keyframeDelay := decision.KeyframeDelay
	report.ConsideredKeyframe = decision.ConsiderKeyframe

	if decision.QueryRelocaliser {
		match, err := c.relocaliser.ProcessFrame(view.Depth, decision.ConsiderKeyframe)
		if err != nil {
			return fail("relocalise", err)
		}
		report.KeyframeID = match.KeyframeID
		report.NearestNeighbour = match.NearestNeighbour
		report.Action = DecideRelocalisation(result, match)

		switch report.Action {
		case ActionStoreKeyframe:
			if err := c.poseDatabase.StorePose(match.KeyframeID, st.Tracking.Pose); err != nil {
				if derr := c.relocaliser.DiscardKeyframe(match.KeyframeID); derr != nil {
					err = errors.Join(err, fmt.Errorf("discard keyframe %d: %w", match.KeyframeID, derr))
				}
				return fail("store keyframe pose", err)
			}
			diagf("[%s] frame %d: keyframe %d stored at %v", sceneID, idx, match.KeyframeID, st.Tracking.Pose)

		case ActionRecover:
			recovered, reset, err := c.recover(match.NearestNeighbour, view)
			visibilityReset = reset
			if err != nil {
				return fail("relocalisation recovery", err)
			}
			result = recovered
			keyframeDelay = c.keyframeCooldown
			diagf("[%s] frame %d: relocalised from keyframe %d, verdict now %v", sceneID, idx, match.NearestNeighbour, result)
		}
	}

	gate := FusionGate{
		Enabled:             c.fusionEnabled.Load(),
		Result:              result,
		FusedFramesCount:    c.fusedFramesCount,
		InitialFramesToFuse: c.initialFramesToFuse,
		TrackerLost:         c.fallible != nil && c.fallible.LostTracking(),
	}
	report.TrackerLost = gate.TrackerLost
	report.FusionPermitted = gate.Permitted()
	report.Outcome = DecideOutcome(report.FusionPermitted, result)

	fusedFramesCount := c.fusedFramesCount
	switch report.Outcome {
	case OutcomeFused:
		if err := c.mapper.Fuse(view, st.Tracking, st.Scene, st.Render); err != nil {
			return fail("fuse", err)
		}
		fusedFramesCount++
	case OutcomeVisibilityUpdated:
		if err := c.mapper.UpdateVisibility(view, st.Tracking, st.Scene, st.Render, false); err != nil {
			return fail("update visibility", err)
		}
	case OutcomePoseRestored:
		st.Tracking.Pose = oldPose
	}

	// Raycast from the live camera so the next frame has a prediction to track against.
	if err := c.tracker.Prepare(st.Tracking, st.Scene, view, st.Render); err != nil {
		return fail("prepare", err)
	}

	// Commit.
	c.fusedFramesCount = fusedFramesCount
	c.keyframeDelay = keyframeDelay
	c.framesProcessed++
	c.endFrame(idx)

	report.EffectiveResult = result
	report.FusedFramesCount = c.fusedFramesCount
	report.KeyframeDelay = c.keyframeDelay
	report.FusionEnabled = c.fusionEnabled.Load()
	report.Pose = st.Tracking.Pose

	tracef("[%s] frame %d: raw=%v effective=%v action=%v outcome=%v fused=%d delay=%d",
		sceneID, report.FrameIndex, report.RawResult, result, report.Action, report.Outcome,
		report.FusedFramesCount, report.KeyframeDelay)

	c.publish(&report)
	if c.observer != nil {
		c.observer(report)
	}
	return true, nil
}

// recover restarts tracking from a keyframe's stored pose and returns the
// verdict of the re-track. reset reports whether the render state was
// touched, even when err is set.
func (c *Controller) recover(nearest KeyframeID, view *View) (result TrackingResult, reset bool, err error) {
	st := c.state
	pose, err := c.poseDatabase.RetrievePose(nearest)
	if err != nil {
		return TrackingFailed, false, fmt.Errorf("retrieve pose for keyframe %d: %w", nearest, err)
	}
	st.Tracking.Pose = pose

	const resetVisibleList = true
	if err := c.mapper.UpdateVisibility(view, st.Tracking, st.Scene, st.Render, resetVisibleList); err != nil {
		return TrackingFailed, true, fmt.Errorf("reset visible list: %w", err)
	}
	if err := c.tracker.Prepare(st.Tracking, st.Scene, view, st.Render); err != nil {
		return TrackingFailed, true, fmt.Errorf("prepare: %w", err)
	}
	if err := c.tracker.Track(st.Tracking, view); err != nil {
		return TrackingFailed, true, fmt.Errorf("re-track: %w", err)
	}
	return st.Tracking.Result, true, nil
}

// restoreRender rebuilds the visible list and prediction from the current
// pose after a dropped recovery.
func (c *Controller) restoreRender(view *View) error {
	st := c.state
	if err := c.mapper.UpdateVisibility(view, st.Tracking, st.Scene, st.Render, true); err != nil {
		return fmt.Errorf("restore visible list: %w", err)
	}
	if err := c.tracker.Prepare(st.Tracking, st.Scene, view, st.Render); err != nil {
		return fmt.Errorf("restore prediction: %w", err)
	}
	return nil
}

// endFrame disables fusion once the sub-stream that produced frame idx has
// run dry. It runs for every frame taken from the source, dropped or not.
func (c *Controller) endFrame(idx int) {
	if c.source.CurrentSubstreamHasMoreImages() || !c.fusionEnabled.Swap(false) {
		return
	}
	diagf("[%s] frame %d: sub-stream exhausted, fusion disabled", c.state.SceneID, idx)
	c.mu.Lock()
	c.snapshot.FusionEnabled = false
	c.mu.Unlock()
}

func (c *Controller) publish(report *FrameReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = Status{
		SceneID:          c.state.SceneID,
		FailureMode:      c.failureMode.String(),
		FramesProcessed:  c.framesProcessed,
		FusedFramesCount: c.fusedFramesCount,
		KeyframeDelay:    c.keyframeDelay,
		FusionEnabled:    c.fusionEnabled.Load(),
		Pose:             c.state.Tracking.Pose,
	}
	if report != nil {
		c.snapshot.LastResult = report.EffectiveResult
		c.snapshot.LastOutcome = report.Outcome
		r := *report
		c.lastReport = &r
	}
}
