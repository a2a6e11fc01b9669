package source

import (
	"image"
	"sync"

	"github.com/banshee-data/slamframe/internal/slam"
)

// CompositeSource plays a list of sources back to back. Each member is a
// sub-stream; CurrentSubstreamHasMoreImages refers to the member that
// produced the most recent frame.
type CompositeSource struct {
	mu      sync.Mutex
	members []slam.FrameSource
	current int
}

// NewCompositeSource returns a source over members in order.
func NewCompositeSource(members ...slam.FrameSource) *CompositeSource {
	return &CompositeSource{members: members}
}

// HasMoreImages reports whether any member from the current one onwards has frames.
func (c *CompositeSource) HasMoreImages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := c.current; i < len(c.members); i++ {
		if c.members[i].HasMoreImages() {
			return true
		}
	}
	return false
}

// Images returns the next frame, moving to the next member when the
// current one is exhausted.
func (c *CompositeSource) Images() (*image.RGBA, *image.Gray16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.current < len(c.members) && !c.members[c.current].HasMoreImages() {
		c.current++
		diagf("composite source: advanced to sub-stream %d", c.current)
	}
	if c.current >= len(c.members) {
		return nil, nil, ErrExhausted
	}
	return c.members[c.current].Images()
}

// CurrentSubstreamHasMoreImages reports whether the member that produced
// the last frame has further frames.
func (c *CompositeSource) CurrentSubstreamHasMoreImages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current >= len(c.members) {
		return false
	}
	return c.members[c.current].HasMoreImages()
}

// SubstreamIndex returns the index of the member currently being played.
func (c *CompositeSource) SubstreamIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
