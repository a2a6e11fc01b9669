// Package posedb stores keyframe poses for relocalisation recovery and the
// per-frame decision log of SLAM runs.
package posedb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/geom"
)

// ErrKeyframeNotFound is returned by RetrievePose for an id that was never stored.
var ErrKeyframeNotFound = errors.New("keyframe not found")

// MemoryStore is an in-process pose database.
type MemoryStore struct {
	mu    sync.RWMutex
	poses map[slam.KeyframeID]geom.Pose
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{poses: make(map[slam.KeyframeID]geom.Pose)}
}

// StorePose records the pose for a keyframe, replacing any previous value.
func (s *MemoryStore) StorePose(id slam.KeyframeID, pose geom.Pose) error {
	if !id.Valid() {
		return fmt.Errorf("store pose: invalid keyframe id %d", id)
	}
	s.mu.Lock()
	s.poses[id] = pose
	s.mu.Unlock()
	return nil
}

// RetrievePose returns the pose stored for a keyframe.
func (s *MemoryStore) RetrievePose(id slam.KeyframeID) (geom.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.poses[id]
	if !ok {
		return geom.Pose{}, fmt.Errorf("keyframe %d: %w", id, ErrKeyframeNotFound)
	}
	return p, nil
}

// Len returns the number of stored keyframes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.poses)
}
