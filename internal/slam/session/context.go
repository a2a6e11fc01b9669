// Package session owns the per-scene SLAM state and drives one
// slam.Controller per scene.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/slamframe/internal/config"
	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/mapping"
)

var (
	// ErrSceneNotFound is returned for scene ids that were never added.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrSceneExists is returned when a scene id is added twice.
	ErrSceneExists = errors.New("scene already exists")
)

// Context is the arena of per-scene state. Each scene id maps to its own
// reconstruction, tracking state, render state and current view; nothing
// is shared between scenes.
type Context struct {
	settings *config.SLAMConfig

	mu     sync.RWMutex
	states map[string]*slam.SessionState
}

// NewContext returns an empty arena. A nil settings uses the defaults.
func NewContext(settings *config.SLAMConfig) *Context {
	if settings == nil {
		settings = config.DefaultSLAMConfig()
	}
	return &Context{settings: settings, states: make(map[string]*slam.SessionState)}
}

// Settings returns the process-wide SLAM settings.
func (c *Context) Settings() *config.SLAMConfig { return c.settings }

// AddScene allocates fresh state for a scene id.
func (c *Context) AddScene(id string, voxelSize float64) (*slam.SessionState, error) {
	if id == "" {
		return nil, errors.New("scene id is required")
	}
	if voxelSize <= 0 {
		return nil, fmt.Errorf("voxel size must be positive, got %f", voxelSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.states[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSceneExists, id)
	}
	st := &slam.SessionState{
		SceneID:  id,
		Scene:    mapping.NewScene(id, voxelSize),
		Tracking: slam.NewTrackingState(),
		Render:   mapping.NewRenderState(),
	}
	c.states[id] = st
	return st, nil
}

// State returns the state for a scene id.
func (c *Context) State(id string) (*slam.SessionState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, id)
	}
	return st, nil
}

// Scene returns the voxel scene for a scene id.
func (c *Context) Scene(id string) (*mapping.Scene, error) {
	st, err := c.State(id)
	if err != nil {
		return nil, err
	}
	s, ok := st.Scene.(*mapping.Scene)
	if !ok {
		return nil, fmt.Errorf("scene %s is %T", id, st.Scene)
	}
	return s, nil
}

// SceneIDs returns the known scene ids, sorted.
func (c *Context) SceneIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (c *Context) removeScene(id string) {
	c.mu.Lock()
	delete(c.states, id)
	c.mu.Unlock()
}
