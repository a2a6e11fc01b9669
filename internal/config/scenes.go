package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SceneManifest lists the scenes a process reconstructs side by side.
type SceneManifest struct {
	// Config is an optional SLAM config (JSON) applied to every scene that
	// does not name its own.
	Config string      `yaml:"config,omitempty"`
	Scenes []SceneSpec `yaml:"scenes"`
}

// SceneSpec describes one scene's input. Exactly one of Dirs and Synthetic
// is set. Several Dirs are played back as consecutive sub-streams.
type SceneSpec struct {
	ID        string   `yaml:"id"`
	Dirs      []string `yaml:"dirs,omitempty"`
	Synthetic int      `yaml:"synthetic,omitempty"`
	// Feed is a pose feed file for trajectory trackers. Synthetic scenes
	// fall back to their own ground truth when it is empty.
	Feed   string `yaml:"feed,omitempty"`
	Config string `yaml:"config,omitempty"`
}

// LoadSceneManifest reads a YAML scene manifest. Relative paths inside the
// manifest are resolved against the manifest's directory. Unknown keys are
// rejected.
func LoadSceneManifest(path string) (*SceneManifest, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("scene manifest must have .yaml or .yml extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scene manifest: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("scene manifest too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene manifest: %w", err)
	}

	m, err := ParseSceneManifest(data)
	if err != nil {
		return nil, err
	}
	m.resolve(filepath.Dir(cleanPath))
	return m, nil
}

// ParseSceneManifest decodes and validates a manifest without touching the
// filesystem.
func ParseSceneManifest(data []byte) (*SceneManifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m SceneManifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse scene manifest YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene manifest: %w", err)
	}
	return &m, nil
}

// Validate checks ids are present and unique and each scene has one input.
func (m *SceneManifest) Validate() error {
	if len(m.Scenes) == 0 {
		return errors.New("no scenes")
	}
	seen := make(map[string]bool, len(m.Scenes))
	for i, s := range m.Scenes {
		if s.ID == "" {
			return fmt.Errorf("scene %d: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("scene %q listed twice", s.ID)
		}
		seen[s.ID] = true
		switch {
		case len(s.Dirs) > 0 && s.Synthetic > 0:
			return fmt.Errorf("scene %q: dirs and synthetic are mutually exclusive", s.ID)
		case len(s.Dirs) == 0 && s.Synthetic <= 0:
			return fmt.Errorf("scene %q: one of dirs or synthetic is required", s.ID)
		}
	}
	return nil
}

// ConfigFor returns the SLAM config path that applies to a scene, or "".
func (m *SceneManifest) ConfigFor(s SceneSpec) string {
	if s.Config != "" {
		return s.Config
	}
	return m.Config
}

func (m *SceneManifest) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	m.Config = abs(m.Config)
	for i := range m.Scenes {
		s := &m.Scenes[i]
		for j := range s.Dirs {
			s.Dirs[j] = abs(s.Dirs[j])
		}
		s.Feed = abs(s.Feed)
		s.Config = abs(s.Config)
	}
}
