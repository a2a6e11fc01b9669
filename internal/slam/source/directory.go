// Package source provides slam.FrameSource implementations.
package source

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"
)

// File name patterns for directory sequences.
const (
	RGBPattern   = "rgb_%06d.png"
	DepthPattern = "depth_%06d.png"
)

// ErrExhausted is returned by Images when the source has no further frames.
var ErrExhausted = errors.New("frame source exhausted")

// DirectorySource reads an RGB-D sequence of numbered PNG pairs starting
// at index 0. Depth images are 16-bit grey in sensor units.
type DirectorySource struct {
	dir   string
	count int

	mu   sync.Mutex
	next int
}

// NewDirectorySource counts the contiguous frame pairs in dir.
func NewDirectorySource(dir string) (*DirectorySource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open sequence: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open sequence: %s is not a directory", dir)
	}
	n := 0
	for {
		if !exists(filepath.Join(dir, fmt.Sprintf(RGBPattern, n))) ||
			!exists(filepath.Join(dir, fmt.Sprintf(DepthPattern, n))) {
			break
		}
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("open sequence: no %s/%s pairs in %s", RGBPattern, DepthPattern, dir)
	}
	diagf("sequence %s: %d frames", dir, n)
	return &DirectorySource{dir: dir, count: n}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Len returns the number of frames in the sequence.
func (s *DirectorySource) Len() int { return s.count }

// HasMoreImages reports whether unread frames remain.
func (s *DirectorySource) HasMoreImages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next < s.count
}

// CurrentSubstreamHasMoreImages is HasMoreImages; a directory is one stream.
func (s *DirectorySource) CurrentSubstreamHasMoreImages() bool { return s.HasMoreImages() }

// Images decodes the next frame pair and advances past it.
func (s *DirectorySource) Images() (*image.RGBA, *image.Gray16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.count {
		return nil, nil, ErrExhausted
	}
	// A frame that fails to decode is skipped, not retried.
	idx := s.next
	s.next++

	rgbImg, err := decodePNG(filepath.Join(s.dir, fmt.Sprintf(RGBPattern, idx)))
	if err != nil {
		opsf("sequence %s: skipping frame %d: %v", s.dir, idx, err)
		return nil, nil, err
	}
	depthImg, err := decodePNG(filepath.Join(s.dir, fmt.Sprintf(DepthPattern, idx)))
	if err != nil {
		opsf("sequence %s: skipping frame %d: %v", s.dir, idx, err)
		return nil, nil, err
	}
	depth, ok := depthImg.(*image.Gray16)
	if !ok {
		return nil, nil, fmt.Errorf("frame %d: depth image is %T, want 16-bit grey", idx, depthImg)
	}
	tracef("sequence %s: frame %d decoded", s.dir, idx)
	return toRGBA(rgbImg), depth, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// WritePair writes a frame pair in the layout NewDirectorySource reads.
func WritePair(dir string, idx int, rgb image.Image, depth *image.Gray16) error {
	if err := writePNG(filepath.Join(dir, fmt.Sprintf(RGBPattern, idx)), rgb); err != nil {
		return err
	}
	return writePNG(filepath.Join(dir, fmt.Sprintf(DepthPattern, idx)), depth)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
