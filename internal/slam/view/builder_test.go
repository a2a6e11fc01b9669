package view

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slamframe/internal/slam"
)

func testIntrinsics() slam.Intrinsics {
	return slam.Intrinsics{Fx: 100, Fy: 100, Cx: 8, Cy: 6}
}

func rawDepth(w, h int, f func(x, y int) uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: f(x, y)})
		}
	}
	return img
}

func TestUpdateViewScalesDepth(t *testing.T) {
	b, err := NewBuilder(0.001, testIntrinsics())
	require.NoError(t, err)

	rgb := image.NewRGBA(image.Rect(0, 0, 4, 3))
	raw := rawDepth(4, 3, func(x, y int) uint16 {
		if x == 0 && y == 0 {
			return 0
		}
		return 1500
	})

	v, err := b.UpdateView(rgb, raw, false)
	require.NoError(t, err)
	assert.Same(t, rgb, v.RGB)
	assert.Equal(t, testIntrinsics(), v.Intrinsics)
	assert.Equal(t, float32(0), v.Depth.At(0, 0), "missing depth stays missing")
	assert.InDelta(t, 1.5, v.Depth.At(3, 2), 1e-6)
}

func TestUpdateViewDepthRange(t *testing.T) {
	b, err := NewBuilder(0.001, testIntrinsics())
	require.NoError(t, err)
	b.MinDepth, b.MaxDepth = 0.5, 2

	raw := rawDepth(3, 1, func(x, _ int) uint16 { return []uint16{100, 1000, 5000}[x] })
	v, err := b.UpdateView(image.NewRGBA(image.Rect(0, 0, 3, 1)), raw, false)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, v.Depth.Depth)
}

func TestBilateralPreservesEdges(t *testing.T) {
	b, err := NewBuilder(0.001, testIntrinsics())
	require.NoError(t, err)

	// Left half at 1 m with mild noise, right half at 2 m.
	raw := rawDepth(12, 8, func(x, y int) uint16 {
		if x < 6 {
			return uint16(1000 + 5*((x+y)%2))
		}
		return 2000
	})
	rgb := image.NewRGBA(image.Rect(0, 0, 12, 8))

	plain, err := b.UpdateView(rgb, raw, false)
	require.NoError(t, err)
	filtered, err := b.UpdateView(rgb, raw, true)
	require.NoError(t, err)

	// Noise on the flat side is reduced.
	assert.Less(t, abs32(filtered.Depth.At(2, 3)-filtered.Depth.At(3, 3)), abs32(plain.Depth.At(2, 3)-plain.Depth.At(3, 3)))
	// The 1 m step survives.
	assert.InDelta(t, 1.0, filtered.Depth.At(5, 3), 0.01)
	assert.InDelta(t, 2.0, filtered.Depth.At(6, 3), 0.01)
}

func TestBilateralKeepsHoles(t *testing.T) {
	b, err := NewBuilder(0.001, testIntrinsics())
	require.NoError(t, err)
	raw := rawDepth(5, 5, func(x, y int) uint16 {
		if x == 2 && y == 2 {
			return 0
		}
		return 1200
	})
	v, err := b.UpdateView(image.NewRGBA(image.Rect(0, 0, 5, 5)), raw, true)
	require.NoError(t, err)
	assert.Equal(t, float32(0), v.Depth.At(2, 2))
	assert.InDelta(t, 1.2, v.Depth.At(0, 0), 1e-6)
}

func TestUpdateViewErrors(t *testing.T) {
	b, err := NewBuilder(0.001, testIntrinsics())
	require.NoError(t, err)

	_, err = b.UpdateView(nil, image.NewGray16(image.Rect(0, 0, 1, 1)), false)
	assert.Error(t, err)
	_, err = b.UpdateView(image.NewRGBA(image.Rect(0, 0, 2, 2)), image.NewGray16(image.Rect(0, 0, 1, 1)), false)
	assert.Error(t, err)

	_, err = NewBuilder(0, testIntrinsics())
	assert.Error(t, err)
}

func TestBuilderSatisfiesInterface(t *testing.T) {
	b, err := NewBuilder(0.001, testIntrinsics())
	require.NoError(t, err)
	var _ slam.ViewBuilder = b
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
