// Package view turns raw RGB-D frames into slam.View values.
package view

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/banshee-data/slamframe/internal/slam"
)

// Bilateral filter parameters for the 5x5 depth kernel.
const (
	bilateralRadius     = 2
	bilateralSigmaSpace = 2.5  // pixels
	bilateralSigmaDepth = 0.03 // metres
)

// Builder converts raw depth units to metres and attaches the camera intrinsics.
type Builder struct {
	DepthScale float64
	Intrinsics slam.Intrinsics
	// MinDepth and MaxDepth discard samples outside the sensor range. Zero
	// disables the bound.
	MinDepth float32
	MaxDepth float32

	spatial [2*bilateralRadius + 1][2*bilateralRadius + 1]float32
}

// NewBuilder returns a Builder. depthScale is metres per raw depth unit.
func NewBuilder(depthScale float64, intr slam.Intrinsics) (*Builder, error) {
	if depthScale <= 0 {
		return nil, fmt.Errorf("depth scale must be positive, got %f", depthScale)
	}
	b := &Builder{DepthScale: depthScale, Intrinsics: intr}
	for dy := -bilateralRadius; dy <= bilateralRadius; dy++ {
		for dx := -bilateralRadius; dx <= bilateralRadius; dx++ {
			r2 := float64(dx*dx + dy*dy)
			b.spatial[dy+bilateralRadius][dx+bilateralRadius] = float32(math.Exp(-r2 / (2 * bilateralSigmaSpace * bilateralSigmaSpace)))
		}
	}
	return b, nil
}

// UpdateView builds the view for one frame. The RGB and depth images must
// have the same size.
func (b *Builder) UpdateView(rgb *image.RGBA, rawDepth *image.Gray16, useBilateralFilter bool) (*slam.View, error) {
	if rgb == nil || rawDepth == nil {
		return nil, errors.New("view: missing rgb or depth image")
	}
	if rgb.Bounds().Size() != rawDepth.Bounds().Size() {
		return nil, fmt.Errorf("view: rgb size %v does not match depth size %v", rgb.Bounds().Size(), rawDepth.Bounds().Size())
	}

	depth := b.metricDepth(rawDepth)
	if useBilateralFilter {
		depth = b.bilateral(depth)
	}
	return &slam.View{RGB: rgb, Depth: depth, Intrinsics: b.Intrinsics}, nil
}

func (b *Builder) metricDepth(raw *image.Gray16) *slam.DepthImage {
	bounds := raw.Bounds()
	out := slam.NewDepthImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			v := raw.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			if v == 0 {
				continue
			}
			d := float32(float64(v) * b.DepthScale)
			if (b.MinDepth > 0 && d < b.MinDepth) || (b.MaxDepth > 0 && d > b.MaxDepth) {
				continue
			}
			out.Set(x, y, d)
		}
	}
	return out
}

// bilateral smooths depth while preserving discontinuities. Missing samples
// stay missing and do not contribute to their neighbours.
func (b *Builder) bilateral(in *slam.DepthImage) *slam.DepthImage {
	out := slam.NewDepthImage(in.Width, in.Height)
	const inv2SigmaDepth2 = 1 / (2 * bilateralSigmaDepth * bilateralSigmaDepth)
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			centre := in.At(x, y)
			if centre <= 0 {
				continue
			}
			var sum, weight float32
			for dy := -bilateralRadius; dy <= bilateralRadius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= in.Height {
					continue
				}
				for dx := -bilateralRadius; dx <= bilateralRadius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= in.Width {
						continue
					}
					d := in.At(nx, ny)
					if d <= 0 {
						continue
					}
					diff := float64(d - centre)
					w := b.spatial[dy+bilateralRadius][dx+bilateralRadius] * float32(math.Exp(-diff*diff*inv2SigmaDepth2))
					sum += w * d
					weight += w
				}
			}
			out.Set(x, y, sum/weight)
		}
	}
	return out
}
