package source

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/geom"
	"github.com/banshee-data/slamframe/internal/slam/tracking"
)

// SyntheticConfig describes a camera sliding along X in front of a
// corrugated wall.
type SyntheticConfig struct {
	Frames int
	Width  int
	Height int
	// Step is the camera translation per frame, metres.
	Step float64
	// WallDistance is the mean wall depth, metres.
	WallDistance float64
	// Amplitude and Wavelength shape the wall corrugation, metres.
	Amplitude  float64
	Wavelength float64
	DepthScale float64
	Intrinsics slam.Intrinsics

	// Frames in PoorFrames get poor residuals and frames in FailedFrames
	// fail their first tracking attempt and succeed on a retry. Frames in
	// DropoutFrames have no pose sample at all.
	PoorFrames    map[int]bool
	FailedFrames  map[int]bool
	DropoutFrames map[int]bool
}

// DefaultSyntheticConfig returns a small 64x48 sequence.
func DefaultSyntheticConfig(frames int) SyntheticConfig {
	return SyntheticConfig{
		Frames:       frames,
		Width:        64,
		Height:       48,
		Step:         0.02,
		WallDistance: 1.5,
		Amplitude:    0.15,
		Wavelength:   0.6,
		DepthScale:   0.001,
		Intrinsics:   slam.Intrinsics{Fx: 60, Fy: 60, Cx: 31.5, Cy: 23.5},
	}
}

// SyntheticSource renders SyntheticConfig frames on demand. It is also a
// tracking.PoseFeed carrying the ground-truth trajectory.
type SyntheticSource struct {
	cfg SyntheticConfig

	mu   sync.Mutex
	next int
}

// NewSyntheticSource validates cfg and returns a source.
func NewSyntheticSource(cfg SyntheticConfig) (*SyntheticSource, error) {
	switch {
	case cfg.Frames < 0:
		return nil, fmt.Errorf("synthetic: frames must be non-negative, got %d", cfg.Frames)
	case cfg.Width <= 0 || cfg.Height <= 0:
		return nil, fmt.Errorf("synthetic: size must be positive, got %dx%d", cfg.Width, cfg.Height)
	case cfg.DepthScale <= 0:
		return nil, fmt.Errorf("synthetic: depth scale must be positive")
	case cfg.Wavelength <= 0:
		return nil, fmt.Errorf("synthetic: wavelength must be positive")
	case cfg.Intrinsics.Fx <= 0 || cfg.Intrinsics.Fy <= 0:
		return nil, fmt.Errorf("synthetic: focal lengths must be positive")
	}
	return &SyntheticSource{cfg: cfg}, nil
}

// HasMoreImages reports whether frames remain.
func (s *SyntheticSource) HasMoreImages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next < s.cfg.Frames
}

// CurrentSubstreamHasMoreImages is HasMoreImages.
func (s *SyntheticSource) CurrentSubstreamHasMoreImages() bool { return s.HasMoreImages() }

// Images renders the next frame.
func (s *SyntheticSource) Images() (*image.RGBA, *image.Gray16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.cfg.Frames {
		return nil, nil, ErrExhausted
	}
	rgb, depth := s.render(s.next)
	s.next++
	return rgb, depth, nil
}

// GroundTruth returns the camera pose for a frame.
func (s *SyntheticSource) GroundTruth(frame int) geom.Pose {
	return geom.Translate(r3.Vec{X: float64(frame) * s.cfg.Step})
}

// Sample implements tracking.PoseFeed.
func (s *SyntheticSource) Sample(frame int) (tracking.PoseSample, bool) {
	if frame < 0 || frame >= s.cfg.Frames || s.cfg.DropoutFrames[frame] {
		return tracking.PoseSample{}, false
	}
	sample := tracking.PoseSample{Pose: s.GroundTruth(frame)}
	switch {
	case s.cfg.FailedFrames[frame]:
		sample.Attempts = []slam.Residuals{
			{InlierRatio: 0.1, RMSEMeters: 0.2},
			{InlierRatio: 0.9, RMSEMeters: 0.005},
		}
	case s.cfg.PoorFrames[frame]:
		sample.Attempts = []slam.Residuals{{InlierRatio: 0.4, RMSEMeters: 0.04}}
	}
	return sample, true
}

func (s *SyntheticSource) render(frame int) (*image.RGBA, *image.Gray16) {
	cfg := s.cfg
	rect := image.Rect(0, 0, cfg.Width, cfg.Height)
	rgb := image.NewRGBA(rect)
	depth := image.NewGray16(rect)
	camX := float64(frame) * cfg.Step
	k := 2 * math.Pi / cfg.Wavelength
	for v := 0; v < cfg.Height; v++ {
		for u := 0; u < cfg.Width; u++ {
			worldX := camX + cfg.WallDistance*(float64(u)-cfg.Intrinsics.Cx)/cfg.Intrinsics.Fx
			z := cfg.WallDistance + cfg.Amplitude*math.Sin(k*worldX)
			raw := math.Round(z / cfg.DepthScale)
			if raw < 1 || raw > math.MaxUint16 {
				raw = 0
			}
			depth.SetGray16(u, v, color.Gray16{Y: uint16(raw)})

			shade := uint8(127 + 127*math.Sin(k*worldX))
			rgb.SetRGBA(u, v, color.RGBA{R: shade, G: uint8(255 * v / cfg.Height), B: 255 - shade, A: 255})
		}
	}
	return rgb, depth
}
