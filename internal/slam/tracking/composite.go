package tracking

import (
	"fmt"

	"github.com/banshee-data/slamframe/internal/slam"
)

// CompositeTracker runs its members in order on the same state, so each
// refines the previous estimate. The last member's verdict stands.
type CompositeTracker struct {
	members  []slam.Tracker
	fallible []slam.FallibleTracker
}

// NewCompositeTracker returns a tracker over members.
func NewCompositeTracker(members ...slam.Tracker) *CompositeTracker {
	c := &CompositeTracker{members: members}
	for _, m := range members {
		if f, ok := m.(slam.FallibleTracker); ok {
			c.fallible = append(c.fallible, f)
		}
	}
	return c
}

// Prepare prepares every member.
func (c *CompositeTracker) Prepare(state *slam.TrackingState, scene slam.Scene, view *slam.View, render slam.RenderState) error {
	for i, m := range c.members {
		if err := m.Prepare(state, scene, view, render); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
	}
	return nil
}

// Track runs every member in order.
func (c *CompositeTracker) Track(state *slam.TrackingState, view *slam.View) error {
	for i, m := range c.members {
		if err := m.Track(state, view); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
	}
	return nil
}

// LostTracking reports whether any fallible member has lost tracking.
func (c *CompositeTracker) LostTracking() bool {
	for _, f := range c.fallible {
		if f.LostTracking() {
			return true
		}
	}
	return false
}
