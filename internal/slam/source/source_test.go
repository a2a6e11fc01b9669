package source

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamframe/internal/slam"
)

func writeSequence(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rgb := image.NewNRGBA(image.Rect(0, 0, 4, 3))
		rgb.Set(1, 1, color.NRGBA{R: 200, A: 255})
		depth := image.NewGray16(image.Rect(0, 0, 4, 3))
		depth.SetGray16(2, 1, color.Gray16{Y: uint16(1000 + i)})
		require.NoError(t, WritePair(dir, i, rgb, depth))
	}
}

func drain(t *testing.T, s slam.FrameSource) int {
	t.Helper()
	n := 0
	for s.HasMoreImages() {
		_, _, err := s.Images()
		require.NoError(t, err)
		n++
	}
	return n
}

func TestDirectorySource(t *testing.T) {
	dir := t.TempDir()
	writeSequence(t, dir, 3)

	s, err := NewDirectorySource(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	rgb, depth, err := s.Images()
	require.NoError(t, err)
	assert.Equal(t, image.Pt(4, 3), rgb.Bounds().Size())
	assert.Equal(t, color.RGBA{R: 200, A: 255}, rgb.RGBAAt(1, 1))
	assert.Equal(t, uint16(1000), depth.Gray16At(2, 1).Y)

	assert.True(t, s.CurrentSubstreamHasMoreImages())
	assert.Equal(t, 2, drain(t, s))
	assert.False(t, s.HasMoreImages())
	assert.False(t, s.CurrentSubstreamHasMoreImages())

	_, _, err = s.Images()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDirectorySourceStopsAtGap(t *testing.T) {
	dir := t.TempDir()
	writeSequence(t, dir, 3)
	require.NoError(t, os.Remove(filepath.Join(dir, "depth_000001.png")))

	s, err := NewDirectorySource(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestDirectorySourceErrors(t *testing.T) {
	_, err := NewDirectorySource(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	_, err = NewDirectorySource(t.TempDir())
	assert.Error(t, err, "empty directory")

	dir := t.TempDir()
	rgb := image.NewRGBA(image.Rect(0, 0, 2, 2))
	require.NoError(t, writePNG(filepath.Join(dir, "rgb_000000.png"), rgb))
	require.NoError(t, writePNG(filepath.Join(dir, "depth_000000.png"), rgb))
	s, err := NewDirectorySource(dir)
	require.NoError(t, err)
	_, _, err = s.Images()
	assert.Error(t, err, "8-bit depth is rejected")
	assert.False(t, s.HasMoreImages(), "the bad frame is skipped")
}

func newSynthetic(t *testing.T, frames int) *SyntheticSource {
	t.Helper()
	s, err := NewSyntheticSource(DefaultSyntheticConfig(frames))
	require.NoError(t, err)
	return s
}

func TestCompositeSourceSubstreams(t *testing.T) {
	c := NewCompositeSource(newSynthetic(t, 2), newSynthetic(t, 0), newSynthetic(t, 1))

	var current []bool
	for c.HasMoreImages() {
		_, _, err := c.Images()
		require.NoError(t, err)
		current = append(current, c.CurrentSubstreamHasMoreImages())
	}
	assert.Equal(t, []bool{true, false, false}, current)
	assert.Equal(t, 2, c.SubstreamIndex())

	_, _, err := c.Images()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSyntheticSource(t *testing.T) {
	cfg := DefaultSyntheticConfig(3)
	cfg.PoorFrames = map[int]bool{1: true}
	cfg.FailedFrames = map[int]bool{2: true}
	s, err := NewSyntheticSource(cfg)
	require.NoError(t, err)

	rgb, depth, err := s.Images()
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 48), rgb.Bounds().Size())
	d := float64(depth.Gray16At(10, 10).Y) * cfg.DepthScale
	assert.InDelta(t, cfg.WallDistance, d, cfg.Amplitude+0.001)

	assert.Equal(t, 3, drain(t, s)+1)

	sample, ok := s.Sample(0)
	require.True(t, ok)
	assert.Empty(t, sample.Attempts)
	assert.Equal(t, s.GroundTruth(0), sample.Pose)

	sample, ok = s.Sample(1)
	require.True(t, ok)
	assert.Equal(t, slam.TrackingPoor, slam.ClassifyTrackingQuality(sample.Attempts[0]))

	sample, ok = s.Sample(2)
	require.True(t, ok)
	assert.Equal(t, slam.TrackingFailed, slam.ClassifyTrackingQuality(sample.Attempts[0]))
	assert.Equal(t, slam.TrackingGood, slam.ClassifyTrackingQuality(sample.Attempts[1]))

	_, ok = s.Sample(3)
	assert.False(t, ok)
}

func TestSyntheticFramesDiffer(t *testing.T) {
	s := newSynthetic(t, 20)
	_, first, err := s.Images()
	require.NoError(t, err)
	for i := 0; i < 14; i++ {
		_, _, err = s.Images()
		require.NoError(t, err)
	}
	_, later, err := s.Images()
	require.NoError(t, err)
	assert.NotEqual(t, first.Pix, later.Pix)
}

func TestSyntheticConfigValidation(t *testing.T) {
	cfg := DefaultSyntheticConfig(1)
	cfg.Width = 0
	_, err := NewSyntheticSource(cfg)
	assert.Error(t, err)
}
