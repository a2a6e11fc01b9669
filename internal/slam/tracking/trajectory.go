package tracking

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/geom"
)

// PoseSample is an externally measured camera pose for one frame.
type PoseSample struct {
	Pose geom.Pose
	// Attempts holds the alignment residuals for successive tracking
	// attempts on the same frame; the last entry repeats. Empty means a
	// perfect alignment.
	Attempts []slam.Residuals
}

func (s PoseSample) residuals(attempt int) slam.Residuals {
	if len(s.Attempts) == 0 {
		return slam.Residuals{InlierRatio: 1}
	}
	if attempt >= len(s.Attempts) {
		attempt = len(s.Attempts) - 1
	}
	return s.Attempts[attempt]
}

// PoseFeed supplies pose samples by frame index. ok is false when the feed
// has no measurement for the frame.
type PoseFeed interface {
	Sample(frame int) (sample PoseSample, ok bool)
}

// MapFeed is an in-memory PoseFeed.
type MapFeed map[int]PoseSample

// Sample implements PoseFeed.
func (m MapFeed) Sample(frame int) (PoseSample, bool) {
	s, ok := m[frame]
	return s, ok
}

// LoadPoseFeed reads a pose feed file. Each non-comment line is
//
//	frame tx ty tz qx qy qz qw [inlier_ratio rmse_m]...
//
// with optional residual pairs, one per tracking attempt.
func LoadPoseFeed(path string) (MapFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pose feed: %w", err)
	}
	defer f.Close()
	return ReadPoseFeed(f)
}

// ReadPoseFeed parses the LoadPoseFeed format from r.
func ReadPoseFeed(r io.Reader) (MapFeed, error) {
	feed := MapFeed{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 8 || (len(fields)-8)%2 != 0 {
			return nil, fmt.Errorf("pose feed line %d: want 8 fields plus residual pairs, got %d", line, len(fields))
		}
		frame, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("pose feed line %d: frame: %w", line, err)
		}
		v := make([]float64, len(fields)-1)
		for i, s := range fields[1:] {
			if v[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("pose feed line %d: field %d: %w", line, i+2, err)
			}
		}
		pose, err := geom.FromQuaternion(v[6], v[3], v[4], v[5], r3.Vec{X: v[0], Y: v[1], Z: v[2]})
		if err != nil {
			return nil, fmt.Errorf("pose feed line %d: %w", line, err)
		}
		sample := PoseSample{Pose: pose}
		for i := 7; i+1 < len(v); i += 2 {
			sample.Attempts = append(sample.Attempts, slam.Residuals{InlierRatio: v[i], RMSEMeters: v[i+1]})
		}
		feed[frame] = sample
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pose feed: %w", err)
	}
	return feed, nil
}

// TrajectoryTracker sets the camera pose from a PoseFeed. It reports lost
// tracking for frames the feed has no sample for.
type TrajectoryTracker struct {
	feed PoseFeed

	// MaxStep and MaxRotation fail a frame whose sample is further than
	// this from the prepared pose. Zero disables the check.
	MaxStep     float64
	MaxRotation float64

	mu        sync.Mutex
	predicted geom.Pose
	frame     int
	attempt   int
	lost      bool
}

// NewTrajectoryTracker returns a tracker over feed.
func NewTrajectoryTracker(feed PoseFeed) *TrajectoryTracker {
	return &TrajectoryTracker{feed: feed, predicted: geom.Identity(), frame: -1}
}

// Prepare records the pose the next sample is checked against.
func (t *TrajectoryTracker) Prepare(state *slam.TrackingState, _ slam.Scene, _ *slam.View, _ slam.RenderState) error {
	t.mu.Lock()
	t.predicted = state.Pose
	t.mu.Unlock()
	return nil
}

// Track moves the camera to the feed's pose for the view's frame.
func (t *TrajectoryTracker) Track(state *slam.TrackingState, view *slam.View) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if view.FrameIndex != t.frame {
		t.frame = view.FrameIndex
		t.attempt = 0
	} else {
		t.attempt++
	}

	sample, ok := t.feed.Sample(view.FrameIndex)
	t.lost = !ok
	if !ok {
		state.Result = slam.TrackingFailed
		return nil
	}

	state.Pose = sample.Pose
	state.Result = slam.ClassifyTrackingQuality(sample.residuals(t.attempt))
	if t.MaxStep > 0 && geom.TranslationDistance(t.predicted, sample.Pose) > t.MaxStep {
		state.Result = slam.TrackingFailed
	}
	if t.MaxRotation > 0 && geom.RotationAngle(t.predicted, sample.Pose) > t.MaxRotation {
		state.Result = slam.TrackingFailed
	}
	return nil
}

// LostTracking reports whether the last Track found no sample.
func (t *TrajectoryTracker) LostTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}
