package mapping

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slamframe/internal/slam"
)

// Mapper integrates views into a *Scene and maintains a *RenderState.
type Mapper struct {
	// Stride samples every Stride-th pixel in each direction.
	Stride int
	// FrustumMin and FrustumMax bound the depth range fused and rendered.
	FrustumMin float64
	FrustumMax float64
}

// NewMapper returns a mapper that fuses depths in [frustumMin, frustumMax].
func NewMapper(frustumMin, frustumMax float64) *Mapper {
	return &Mapper{Stride: 2, FrustumMin: frustumMin, FrustumMax: frustumMax}
}

func unwrap(scene slam.Scene, render slam.RenderState) (*Scene, *RenderState, error) {
	s, ok := scene.(*Scene)
	if !ok {
		return nil, nil, fmt.Errorf("mapping: scene is %T, want *mapping.Scene", scene)
	}
	r, ok := render.(*RenderState)
	if !ok {
		return nil, nil, fmt.Errorf("mapping: render state is %T, want *mapping.RenderState", render)
	}
	return s, r, nil
}

// Fuse back-projects view's depth through the tracked pose into the scene,
// then refreshes the visible list.
func (m *Mapper) Fuse(view *slam.View, state *slam.TrackingState, scene slam.Scene, render slam.RenderState) error {
	s, r, err := unwrap(scene, render)
	if err != nil {
		return err
	}
	if view == nil || view.Depth == nil {
		return fmt.Errorf("mapping: view has no depth")
	}
	if view.Intrinsics.Fx <= 0 || view.Intrinsics.Fy <= 0 {
		return fmt.Errorf("mapping: invalid intrinsics %+v", view.Intrinsics)
	}

	s.mu.Lock()
	m.backProject(view, state, s.integrate)
	s.mu.Unlock()

	m.refresh(view, state, s, r, false)
	return nil
}

// UpdateVisibility recomputes the visible block list for the current pose
// without touching the scene. The list holds the blocks the view's depth
// samples fall into; without resetList it also keeps previously listed
// blocks that still project into the image.
func (m *Mapper) UpdateVisibility(view *slam.View, state *slam.TrackingState, scene slam.Scene, render slam.RenderState, resetList bool) error {
	s, r, err := unwrap(scene, render)
	if err != nil {
		return err
	}
	if view == nil || view.Depth == nil {
		return fmt.Errorf("mapping: view has no depth")
	}
	m.refresh(view, state, s, r, resetList)
	return nil
}

func (m *Mapper) stride() int {
	if m.Stride <= 0 {
		return 1
	}
	return m.Stride
}

// backProject calls fn with the world position of every sampled depth pixel
// inside the frustum.
func (m *Mapper) backProject(view *slam.View, state *slam.TrackingState, fn func(r3.Vec)) {
	intr := view.Intrinsics
	d := view.Depth
	stride := m.stride()
	for y := 0; y < d.Height; y += stride {
		for x := 0; x < d.Width; x += stride {
			z := float64(d.At(x, y))
			if z <= 0 || z < m.FrustumMin || z > m.FrustumMax {
				continue
			}
			cam := r3.Vec{
				X: (float64(x) - intr.Cx) * z / intr.Fx,
				Y: (float64(y) - intr.Cy) * z / intr.Fy,
				Z: z,
			}
			fn(state.Pose.Apply(cam))
		}
	}
}

func (m *Mapper) refresh(view *slam.View, state *slam.TrackingState, s *Scene, r *RenderState, reset bool) {
	next := make(map[BlockKey]struct{})

	s.mu.RLock()
	m.backProject(view, state, func(p r3.Vec) {
		k := s.VoxelKeyAt(p).Block()
		if _, ok := s.blocks[k]; ok {
			next[k] = struct{}{}
		}
	})
	s.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !reset {
		worldToCam := state.Pose.Inverse()
		for k := range r.visible {
			if m.projects(view, s, worldToCam.Apply(s.BlockCentre(k))) {
				next[k] = struct{}{}
			}
		}
	}
	r.visible = next
}

// projects reports whether a block centred at c (camera frame) could
// overlap the image inside the frustum.
func (m *Mapper) projects(view *slam.View, s *Scene, c r3.Vec) bool {
	margin := s.voxelSize * BlockSize
	if c.Z <= 0 || c.Z+margin < m.FrustumMin || c.Z-margin > m.FrustumMax {
		return false
	}
	intr := view.Intrinsics
	w, h := float64(view.Depth.Width), float64(view.Depth.Height)
	u := intr.Fx*c.X/c.Z + intr.Cx
	v := intr.Fy*c.Y/c.Z + intr.Cy
	du := intr.Fx * margin / c.Z
	dv := intr.Fy * margin / c.Z
	return u+du >= 0 && u-du < w && v+dv >= 0 && v-dv < h
}
