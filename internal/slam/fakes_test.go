package slam

import (
	"errors"
	"fmt"
	"image"

	"github.com/banshee-data/slamframe/internal/slam/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// fakeSource serves a fixed number of frames, split into sub-streams of
// substreamLen frames each (the whole stream when zero). Frames in corrupt
// fail to decode but are still consumed.
type fakeSource struct {
	frames       int
	substreamLen int
	served       int
	err          error
	corrupt      map[int]bool
}

func (s *fakeSource) HasMoreImages() bool { return s.served < s.frames }

func (s *fakeSource) Images() (*image.RGBA, *image.Gray16, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	idx := s.served
	s.served++
	if s.corrupt[idx] {
		return nil, nil, fmt.Errorf("frame %d: png: invalid format", idx)
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), image.NewGray16(image.Rect(0, 0, 4, 4)), nil
}

func (s *fakeSource) CurrentSubstreamHasMoreImages() bool {
	if s.served >= s.frames {
		return false
	}
	if s.substreamLen <= 0 {
		return true
	}
	return s.served%s.substreamLen != 0
}

type fakeViewBuilder struct{ bilateral []bool }

func (b *fakeViewBuilder) UpdateView(rgb *image.RGBA, _ *image.Gray16, useBilateralFilter bool) (*View, error) {
	b.bilateral = append(b.bilateral, useBilateralFilter)
	return &View{RGB: rgb, Depth: NewDepthImage(4, 4)}, nil
}

// scriptedTracker moves the camera by step on every Track call and reports
// verdicts from results in order, then good.
type scriptedTracker struct {
	results  []TrackingResult
	step     r3.Vec
	calls    []string
	lost     bool
	trackErr error
}

func (t *scriptedTracker) Prepare(*TrackingState, Scene, *View, RenderState) error {
	t.calls = append(t.calls, "prepare")
	return nil
}

func (t *scriptedTracker) Track(state *TrackingState, _ *View) error {
	t.calls = append(t.calls, "track")
	if t.trackErr != nil {
		state.Pose = state.Pose.Compose(geom.Translate(r3.Vec{X: 99}))
		return t.trackErr
	}
	state.Pose = state.Pose.Compose(geom.Translate(t.step))
	state.Result = TrackingGood
	if len(t.results) > 0 {
		state.Result = t.results[0]
		t.results = t.results[1:]
	}
	return nil
}

func (t *scriptedTracker) trackCalls() int {
	n := 0
	for _, c := range t.calls {
		if c == "track" {
			n++
		}
	}
	return n
}

type fallibleTracker struct {
	scriptedTracker
}

func (t *fallibleTracker) LostTracking() bool { return t.lost }

type relocCall struct {
	consider bool
}

// fakeRelocaliser assigns a new id to every considered frame unless
// refuseKeyframes is set, and returns nearest as the nearest neighbour.
type fakeRelocaliser struct {
	calls           []relocCall
	nextID          KeyframeID
	nearest         KeyframeID
	refuseKeyframes bool
	discarded       []KeyframeID
	err             error
}

func newFakeRelocaliser() *fakeRelocaliser {
	return &fakeRelocaliser{nearest: NoKeyframe}
}

func (r *fakeRelocaliser) ProcessFrame(_ *DepthImage, considerKeyframe bool) (RelocalisationResult, error) {
	r.calls = append(r.calls, relocCall{consider: considerKeyframe})
	if r.err != nil {
		return RelocalisationResult{}, r.err
	}
	res := RelocalisationResult{KeyframeID: NoKeyframe, NearestNeighbour: r.nearest}
	if considerKeyframe && !r.refuseKeyframes {
		res.KeyframeID = r.nextID
		r.nextID++
	}
	return res, nil
}

func (r *fakeRelocaliser) DiscardKeyframe(id KeyframeID) error {
	r.discarded = append(r.discarded, id)
	return nil
}

func (r *fakeRelocaliser) considered() []bool {
	out := make([]bool, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.consider
	}
	return out
}

var errNoPose = errors.New("no pose")

type memPoseDB struct {
	poses    map[KeyframeID]geom.Pose
	storeErr error
}

func newMemPoseDB() *memPoseDB { return &memPoseDB{poses: map[KeyframeID]geom.Pose{}} }

func (db *memPoseDB) StorePose(id KeyframeID, pose geom.Pose) error {
	if db.storeErr != nil {
		return db.storeErr
	}
	db.poses[id] = pose
	return nil
}

func (db *memPoseDB) RetrievePose(id KeyframeID) (geom.Pose, error) {
	p, ok := db.poses[id]
	if !ok {
		return geom.Pose{}, fmt.Errorf("keyframe %d: %w", id, errNoPose)
	}
	return p, nil
}

type mapperCall struct {
	op    string
	reset bool
}

type recordingMapper struct {
	calls   []mapperCall
	fuseErr error
	// visibilityPoses holds the camera pose of every UpdateVisibility call.
	visibilityPoses []geom.Pose
}

func (m *recordingMapper) Fuse(*View, *TrackingState, Scene, RenderState) error {
	if m.fuseErr != nil {
		return m.fuseErr
	}
	m.calls = append(m.calls, mapperCall{op: "fuse"})
	return nil
}

func (m *recordingMapper) UpdateVisibility(_ *View, state *TrackingState, _ Scene, _ RenderState, reset bool) error {
	m.calls = append(m.calls, mapperCall{op: "visibility", reset: reset})
	m.visibilityPoses = append(m.visibilityPoses, state.Pose)
	return nil
}

func (m *recordingMapper) count(op string) int {
	n := 0
	for _, c := range m.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

type fakeScene struct{ id string }

func (s fakeScene) SceneID() string { return s.id }

type fakeRender struct{}

func (fakeRender) VisibleBlockCount() int { return 0 }

type harness struct {
	state   *SessionState
	source  *fakeSource
	builder *fakeViewBuilder
	tracker *scriptedTracker
	reloc   *fakeRelocaliser
	poses   *memPoseDB
	mapper  *recordingMapper
	reports []FrameReport
	ctrl    *Controller
}

func newHarness(mode FailureMode, frames int, opts ...func(*ControllerConfig)) *harness {
	h := &harness{
		state: &SessionState{
			SceneID:  "scene-a",
			Scene:    fakeScene{id: "scene-a"},
			Tracking: NewTrackingState(),
			Render:   fakeRender{},
		},
		source:  &fakeSource{frames: frames},
		builder: &fakeViewBuilder{},
		tracker: &scriptedTracker{step: r3.Vec{X: 0.1}},
		reloc:   newFakeRelocaliser(),
		poses:   newMemPoseDB(),
		mapper:  &recordingMapper{},
	}
	cfg := DefaultControllerConfig()
	cfg.FailureMode = mode
	cfg.Source = h.source
	cfg.ViewBuilder = h.builder
	cfg.Tracker = h.tracker
	cfg.Mapper = h.mapper
	cfg.Relocaliser = h.reloc
	cfg.PoseDatabase = h.poses
	cfg.Observer = func(r FrameReport) { h.reports = append(h.reports, r) }
	for _, o := range opts {
		o(&cfg)
	}
	ctrl, err := NewController(h.state, cfg)
	if err != nil {
		panic(err)
	}
	h.ctrl = ctrl
	return h
}

// runN calls Run n times and panics on errors or early exhaustion.
func (h *harness) runN(n int) {
	for i := 0; i < n; i++ {
		ok, err := h.ctrl.Run()
		if err != nil {
			panic(err)
		}
		if !ok {
			panic(fmt.Sprintf("source exhausted after %d runs", i))
		}
	}
}

func (h *harness) last() FrameReport { return h.reports[len(h.reports)-1] }
