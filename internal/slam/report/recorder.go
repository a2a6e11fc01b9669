// Package report accumulates frame reports and renders them as a
// trajectory plot and a verdict timeline.
package report

import (
	"sync"

	"github.com/banshee-data/slamframe/internal/slam"
)

// Recorder is a slam.FrameObserver that keeps the reports of every scene.
// It is safe for concurrent use by several sessions.
type Recorder struct {
	mu sync.Mutex
	// maxFrames caps the reports kept per scene; the oldest are dropped.
	maxFrames int
	reports   map[string][]slam.FrameReport
	order     []string
}

// NewRecorder returns a Recorder keeping at most maxFrames reports per
// scene. Zero keeps everything.
func NewRecorder(maxFrames int) *Recorder {
	return &Recorder{maxFrames: maxFrames, reports: make(map[string][]slam.FrameReport)}
}

// Observe records a report. Its signature matches slam.FrameObserver.
func (r *Recorder) Observe(rep slam.FrameReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, ok := r.reports[rep.SceneID]
	if !ok {
		r.order = append(r.order, rep.SceneID)
	}
	list = append(list, rep)
	if r.maxFrames > 0 && len(list) > r.maxFrames {
		list = append(list[:0:0], list[len(list)-r.maxFrames:]...)
	}
	r.reports[rep.SceneID] = list
}

// Scenes returns the scene ids in the order they were first seen.
func (r *Recorder) Scenes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Reports returns a copy of a scene's reports.
func (r *Recorder) Reports(sceneID string) []slam.FrameReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]slam.FrameReport(nil), r.reports[sceneID]...)
}

// Summary counts what happened to a scene's recorded frames.
type Summary struct {
	SceneID         string `json:"scene_id"`
	Frames          int    `json:"frames"`
	Fused           int    `json:"fused"`
	Poor            int    `json:"poor"`
	Failed          int    `json:"failed"`
	Relocalisations int    `json:"relocalisations"`
	Keyframes       int    `json:"keyframes"`
	PoseRestored    int    `json:"pose_restored"`
}

// Summarise counts the recorded frames for a scene.
func (r *Recorder) Summarise(sceneID string) Summary {
	s := Summary{SceneID: sceneID}
	for _, rep := range r.Reports(sceneID) {
		s.Frames++
		switch rep.RawResult {
		case slam.TrackingPoor:
			s.Poor++
		case slam.TrackingFailed:
			s.Failed++
		}
		switch rep.Action {
		case slam.ActionRecover:
			s.Relocalisations++
		case slam.ActionStoreKeyframe:
			s.Keyframes++
		}
		switch rep.Outcome {
		case slam.OutcomeFused:
			s.Fused++
		case slam.OutcomePoseRestored:
			s.PoseRestored++
		}
	}
	return s
}
