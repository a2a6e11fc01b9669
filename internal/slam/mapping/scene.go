// Package mapping is a voxel-block dense mapper: it accumulates
// back-projected depth samples in a sparse voxel hash and keeps the list of
// blocks visible from the live camera.
package mapping

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// BlockSize is the number of voxels along each block edge.
const BlockSize = 8

// VoxelKey indexes a voxel in the world grid.
type VoxelKey struct{ X, Y, Z int32 }

// BlockKey indexes a BlockSize^3 block of voxels.
type BlockKey struct{ X, Y, Z int32 }

// Block returns the block containing the voxel.
func (k VoxelKey) Block() BlockKey {
	return BlockKey{floorDiv(k.X, BlockSize), floorDiv(k.Y, BlockSize), floorDiv(k.Z, BlockSize)}
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Voxel is the running mean of the samples that fell into one voxel.
type Voxel struct {
	Mean   r3.Vec
	Weight uint32
}

type block struct {
	voxels map[VoxelKey]*Voxel
}

// Scene is a sparse voxel reconstruction.
type Scene struct {
	id        string
	voxelSize float64

	mu     sync.RWMutex
	blocks map[BlockKey]*block
	voxels int
}

// NewScene returns an empty scene with the given voxel edge length in metres.
func NewScene(id string, voxelSize float64) *Scene {
	return &Scene{id: id, voxelSize: voxelSize, blocks: make(map[BlockKey]*block)}
}

// SceneID implements slam.Scene.
func (s *Scene) SceneID() string { return s.id }

// VoxelSize returns the voxel edge length in metres.
func (s *Scene) VoxelSize() float64 { return s.voxelSize }

// BlockCount returns the number of allocated blocks.
func (s *Scene) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// VoxelCount returns the number of occupied voxels.
func (s *Scene) VoxelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voxels
}

// VoxelKeyAt returns the voxel containing world point p.
func (s *Scene) VoxelKeyAt(p r3.Vec) VoxelKey {
	return VoxelKey{
		X: int32(math.Floor(p.X / s.voxelSize)),
		Y: int32(math.Floor(p.Y / s.voxelSize)),
		Z: int32(math.Floor(p.Z / s.voxelSize)),
	}
}

// BlockCentre returns the world position of a block's centre.
func (s *Scene) BlockCentre(k BlockKey) r3.Vec {
	edge := s.voxelSize * BlockSize
	return r3.Vec{
		X: (float64(k.X) + 0.5) * edge,
		Y: (float64(k.Y) + 0.5) * edge,
		Z: (float64(k.Z) + 0.5) * edge,
	}
}

func (s *Scene) integrate(p r3.Vec) {
	vk := s.VoxelKeyAt(p)
	bk := vk.Block()
	b, ok := s.blocks[bk]
	if !ok {
		b = &block{voxels: make(map[VoxelKey]*Voxel)}
		s.blocks[bk] = b
	}
	v, ok := b.voxels[vk]
	if !ok {
		v = &Voxel{}
		b.voxels[vk] = v
		s.voxels++
	}
	v.Weight++
	w := 1 / float64(v.Weight)
	v.Mean = r3.Add(v.Mean, r3.Scale(w, r3.Sub(p, v.Mean)))
}

// Voxel returns a copy of the voxel at k.
func (s *Scene) Voxel(k VoxelKey) (Voxel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[k.Block()]
	if !ok {
		return Voxel{}, false
	}
	v, ok := b.voxels[k]
	if !ok {
		return Voxel{}, false
	}
	return *v, true
}

// RenderState holds the blocks visible from the live camera.
type RenderState struct {
	mu      sync.RWMutex
	visible map[BlockKey]struct{}
}

// NewRenderState returns an empty render state.
func NewRenderState() *RenderState {
	return &RenderState{visible: make(map[BlockKey]struct{})}
}

// VisibleBlockCount implements slam.RenderState.
func (r *RenderState) VisibleBlockCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visible)
}

// VisibleBlocks returns the visible block list in a stable order.
func (r *RenderState) VisibleBlocks() []BlockKey {
	r.mu.RLock()
	keys := make([]BlockKey, 0, len(r.visible))
	for k := range r.visible {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return keys
}
