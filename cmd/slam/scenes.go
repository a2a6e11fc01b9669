package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/slamframe/internal/config"
	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/session"
	"github.com/banshee-data/slamframe/internal/slam/source"
	"github.com/banshee-data/slamframe/internal/slam/tracking"
)

// Synthetic scenes are a fraction of the default relocaliser grid.
const syntheticGridWidth, syntheticGridHeight = 16, 12

// sceneFlags collects repeated -scene id=dir[,dir...] flags.
type sceneFlags []config.SceneSpec

func (f *sceneFlags) String() string {
	parts := make([]string, 0, len(*f))
	for _, s := range *f {
		parts = append(parts, s.ID+"="+strings.Join(s.Dirs, ","))
	}
	return strings.Join(parts, " ")
}

func (f *sceneFlags) Set(v string) error {
	id, dirs, ok := strings.Cut(v, "=")
	if !ok || id == "" || dirs == "" {
		return fmt.Errorf("scene must be id=dir[,dir...], got %q", v)
	}
	spec := config.SceneSpec{ID: id}
	for _, d := range strings.Split(dirs, ",") {
		if d = strings.TrimSpace(d); d != "" {
			spec.Dirs = append(spec.Dirs, d)
		}
	}
	if len(spec.Dirs) == 0 {
		return fmt.Errorf("scene %s: no directories", id)
	}
	*f = append(*f, spec)
	return nil
}

// parseGrid parses "WxH". An empty string means the relocaliser default.
func parseGrid(s string) (w, h int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("grid must be WxH, got %q", s)
	}
	if w, err = strconv.Atoi(ws); err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("grid width must be a positive integer, got %q", ws)
	}
	if h, err = strconv.Atoi(hs); err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("grid height must be a positive integer, got %q", hs)
	}
	return w, h, nil
}

// sceneSet gathers scenes from every flag into one manifest.
func sceneSet(manifestPath string, scenes sceneFlags, synthetic int, feed string) (*config.SceneManifest, error) {
	m := &config.SceneManifest{}
	if manifestPath != "" {
		loaded, err := config.LoadSceneManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	}
	for _, s := range scenes {
		s.Feed = feed
		m.Scenes = append(m.Scenes, s)
	}
	if synthetic > 0 {
		m.Scenes = append(m.Scenes, config.SceneSpec{ID: "synthetic", Synthetic: synthetic})
	}
	if len(m.Scenes) == 0 {
		return nil, errors.New("no scenes: pass -scene, -scenes or -synthetic")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// buildSpecs opens the sources and feeds of every scene in m.
func buildSpecs(m *config.SceneManifest, gridW, gridH int) ([]session.Spec, error) {
	configs := map[string]*config.SLAMConfig{}
	specs := make([]session.Spec, 0, len(m.Scenes))
	for _, s := range m.Scenes {
		spec := session.Spec{SceneID: s.ID, RelocGridWidth: gridW, RelocGridHeight: gridH}

		if path := m.ConfigFor(s); path != "" {
			cfg, ok := configs[path]
			if !ok {
				var err error
				if cfg, err = config.LoadSLAMConfig(path); err != nil {
					return nil, fmt.Errorf("scene %s: %w", s.ID, err)
				}
				configs[path] = cfg
			}
			spec.Config = cfg
		}

		if s.Synthetic > 0 {
			sc := source.DefaultSyntheticConfig(s.Synthetic)
			src, err := source.NewSyntheticSource(sc)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", s.ID, err)
			}
			spec.Source, spec.Feed = src, src
			spec.Intrinsics = &sc.Intrinsics
			spec.DepthScale = sc.DepthScale
			if gridW == 0 {
				spec.RelocGridWidth, spec.RelocGridHeight = syntheticGridWidth, syntheticGridHeight
			}
		} else {
			members := make([]slam.FrameSource, 0, len(s.Dirs))
			for _, dir := range s.Dirs {
				src, err := source.NewDirectorySource(dir)
				if err != nil {
					return nil, fmt.Errorf("scene %s: %w", s.ID, err)
				}
				members = append(members, src)
			}
			if len(members) == 1 {
				spec.Source = members[0]
			} else {
				spec.Source = source.NewCompositeSource(members...)
			}
		}

		feedPath := s.Feed
		if feedPath == "" && len(s.Dirs) > 0 {
			if p := filepath.Join(s.Dirs[0], source.FeedFile); fileExists(p) {
				feedPath = p
			}
		}
		if feedPath != "" {
			feed, err := tracking.LoadPoseFeed(feedPath)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", s.ID, err)
			}
			spec.Feed = feed
		}
		if spec.Feed == nil {
			return nil, fmt.Errorf("scene %s: no pose feed; pass -feed or add %s to %s", s.ID, source.FeedFile, s.Dirs[0])
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
